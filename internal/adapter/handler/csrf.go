package handler

import (
	"log/slog"
	"net/http"

	"yba-auth/internal/usecase"
	"yba-auth/middleware"

	"github.com/labstack/echo/v4"
)

// CSRFHandler handles CSRF token requests.
type CSRFHandler struct {
	uc *usecase.GenerateCSRF
}

// NewCSRFHandler creates a new CSRF handler.
func NewCSRFHandler(uc *usecase.GenerateCSRF) *CSRFHandler {
	return &CSRFHandler{uc: uc}
}

// csrfResponse represents the CSRF token response.
type csrfResponse struct {
	Data struct {
		CSRFToken string `json:"csrf_token"`
	} `json:"data"`
}

// Handle issues a token bound to the request session.
func (h *CSRFHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	token, err := h.uc.Execute(ctx, middleware.SessionFrom(c))
	if err != nil {
		return mapDomainError(err)
	}
	slog.DebugContext(ctx, "csrf token issued")

	resp := csrfResponse{}
	resp.Data.CSRFToken = token
	return c.JSON(http.StatusOK, resp)
}
