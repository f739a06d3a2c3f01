package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	store   Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler. store may be nil.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, timeout: 2 * time.Second}
}

// Handle processes the /health endpoint. A failing session store degrades
// the service but does not take it down: the machine runs without a cache.
func (h *HealthHandler) Handle(c echo.Context) error {
	resp := map[string]string{"status": "healthy"}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["sessionStore"] = err.Error()
		}
	}
	return c.JSON(http.StatusOK, resp)
}
