package handler

import (
	"log/slog"
	"net/http"

	"yba-auth/internal/domain"
	"yba-auth/internal/usecase"
	"yba-auth/middleware"

	"github.com/labstack/echo/v4"
)

// Redirects are the routes a denied navigation is sent to.
type Redirects struct {
	Home         string
	Registration string
}

type accessResponse struct {
	Data struct {
		domain.Decision
		Redirect string `json:"redirect,omitempty"`
	} `json:"data"`
}

// AccessHandler serves POST /v1/access/check.
type AccessHandler struct {
	actions   *usecase.SessionActions
	redirects Redirects
}

// NewAccessHandler creates an access handler.
func NewAccessHandler(actions *usecase.SessionActions, redirects Redirects) *AccessHandler {
	return &AccessHandler{actions: actions, redirects: redirects}
}

// Handle runs the navigation guard for the requirements in the body.
func (h *AccessHandler) Handle(c echo.Context) error {
	var req domain.Requirements
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	decision, err := h.actions.CheckAccess(ctx, middleware.SessionFrom(c), req)
	if err != nil && !viewOutcome(err) {
		return mapDomainError(err)
	}

	var resp accessResponse
	resp.Data.Decision = decision
	resp.Data.Redirect = h.redirectFor(decision)
	if !decision.CanProceed {
		slog.InfoContext(ctx, "navigation denied", "reason", decision.Reason, "redirect", resp.Data.Redirect)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AccessHandler) redirectFor(d domain.Decision) string {
	switch {
	case d.CanProceed:
		return ""
	case d.Reason == domain.ReasonMemberRequired:
		return h.redirects.Registration
	default:
		return h.redirects.Home
	}
}
