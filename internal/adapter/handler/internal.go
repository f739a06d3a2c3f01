package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"yba-auth/internal/domain"
	"yba-auth/internal/usecase"
	"yba-auth/utils/logger"

	"github.com/labstack/echo/v4"
)

// InternalHandler handles backend webhooks.
type InternalHandler struct {
	uc *usecase.RefreshSession
}

// NewInternalHandler creates a new internal handler.
func NewInternalHandler(uc *usecase.RefreshSession) *InternalHandler {
	return &InternalHandler{uc: uc}
}

type sessionRefreshRequest struct {
	MemberID string `json:"memberId"`
}

// HandleSessionRefresh re-resolves a live session after the directory
// changed its account or member. An empty body refreshes both.
func (h *InternalHandler) HandleSessionRefresh(c echo.Context) error {
	sid := c.Param("sessionId")
	req := c.Request()
	ctx := logger.WithSessionID(req.Context(), sid)
	c.SetRequest(req.WithContext(ctx))

	var body sessionRefreshRequest
	if err := c.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	view, err := h.uc.Execute(ctx, sid, body.MemberID)
	if errors.Is(err, domain.ErrSessionMissing) {
		// No live machine; the next view request resolves fresh data anyway.
		return echo.NewHTTPError(http.StatusNotFound, "session not live")
	}
	if err != nil && !viewOutcome(err) {
		slog.WarnContext(ctx, "session refresh failed", "error", err, "remote_addr", c.RealIP())
		return mapDomainError(err)
	}

	slog.InfoContext(ctx, "session refreshed by backend", "member_id", body.MemberID, "remote_addr", c.RealIP())
	return c.JSON(http.StatusOK, viewResponse{Data: view})
}
