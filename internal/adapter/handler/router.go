package handler

import (
	"yba-auth/internal/domain"
	"yba-auth/middleware"

	"github.com/labstack/echo/v4"
)

// Router mounts every HTTP route of the service.
type Router struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	Access   *AccessHandler
	CSRF     *CSRFHandler
	Internal *InternalHandler

	CSRFVerifier   domain.CSRFTokenGenerator
	InternalSecret string

	// PublicMiddleware runs on /v1 before the session id is read.
	PublicMiddleware []echo.MiddlewareFunc
	// SessionMiddleware runs on /v1 after the session id is known.
	SessionMiddleware []echo.MiddlewareFunc
	// InternalMiddleware runs on /internal before the shared secret check.
	InternalMiddleware []echo.MiddlewareFunc
}

// Mount registers the routes on e.
func (r *Router) Mount(e *echo.Echo) {
	e.GET("/health", r.Health.Handle)

	v1mw := append([]echo.MiddlewareFunc{}, r.PublicMiddleware...)
	v1mw = append(v1mw, middleware.SessionID())
	v1mw = append(v1mw, r.SessionMiddleware...)
	v1mw = append(v1mw, middleware.CSRF(r.CSRFVerifier))
	v1 := e.Group("/v1", v1mw...)

	auth := v1.Group("/auth")
	auth.GET("/csrf", r.CSRF.Handle)
	r.Auth.Register(auth)

	v1.POST("/access/check", r.Access.Handle)

	internal := e.Group("/internal", append(r.InternalMiddleware, middleware.InternalAuth(r.InternalSecret))...)
	internal.POST("/sessions/:sessionId/refresh", r.Internal.HandleSessionRefresh)
}
