package handler

import (
	"context"
	"net/http"
	"time"

	"yba-auth/internal/domain"
	"yba-auth/internal/usecase"
	"yba-auth/middleware"

	"github.com/labstack/echo/v4"
)

// MemberTokenHeader carries the signed member token for feature services.
const MemberTokenHeader = "X-YBA-Member-Token"

// viewResponse wraps an AuthView.
type viewResponse struct {
	Data domain.AuthView `json:"data"`
}

type permissionRequest struct {
	Scopes []string `json:"scopes"`
}

// AuthHandler serves the /v1/auth routes.
type AuthHandler struct {
	view              *usecase.GetView
	actions           *usecase.SessionActions
	permissionTimeout time.Duration
}

// NewAuthHandler creates an auth handler. A zero permissionTimeout leaves
// consent dialogs bounded by the client connection only.
func NewAuthHandler(view *usecase.GetView, actions *usecase.SessionActions, permissionTimeout time.Duration) *AuthHandler {
	return &AuthHandler{view: view, actions: actions, permissionTimeout: permissionTimeout}
}

// Register mounts the routes on g.
func (h *AuthHandler) Register(g *echo.Group) {
	g.GET("/view", h.HandleView)
	g.POST("/guest", h.HandleGuest)
	g.POST("/refresh", h.HandleRefresh)
	g.POST("/permissions", h.HandlePermissions)
	g.POST("/member/refresh", h.HandleMemberRefresh)
	g.POST("/logout", h.HandleLogout)
}

// HandleView initializes the session and returns its settled view.
func (h *AuthHandler) HandleView(c echo.Context) error {
	result, err := h.view.Execute(c.Request().Context(), middleware.SessionFrom(c))
	if err != nil {
		return mapDomainError(err)
	}
	if result.MemberToken != "" {
		c.Response().Header().Set(MemberTokenHeader, result.MemberToken)
	}
	return c.JSON(http.StatusOK, viewResponse{Data: result.View})
}

func (h *AuthHandler) HandleGuest(c echo.Context) error {
	return respondView(c, func(ctx context.Context, sid string) (domain.AuthView, error) {
		return h.actions.ActivateGuest(ctx, sid)
	})
}

func (h *AuthHandler) HandleRefresh(c echo.Context) error {
	return respondView(c, h.actions.Refresh)
}

// HandlePermissions opens the consent dialog for the requested scopes.
func (h *AuthHandler) HandlePermissions(c echo.Context) error {
	var req permissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	timeout := h.permissionTimeout
	return respondView(c, func(ctx context.Context, sid string) (domain.AuthView, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return h.actions.RequestPermission(ctx, sid, req.Scopes)
	})
}

// HandleMemberRefresh re-fetches the member linked to the session. The
// member id always comes from the session's account, never from the client.
func (h *AuthHandler) HandleMemberRefresh(c echo.Context) error {
	return respondView(c, h.actions.RefreshMember)
}

func (h *AuthHandler) HandleLogout(c echo.Context) error {
	return respondView(c, h.actions.Logout)
}

// respondView runs action for the request session and writes the view.
func respondView(c echo.Context, action func(ctx context.Context, sessionID string) (domain.AuthView, error)) error {
	view, err := action(c.Request().Context(), middleware.SessionFrom(c))
	if err != nil && !viewOutcome(err) {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, viewResponse{Data: view})
}
