package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"yba-auth/internal/domain"
)

// CSRFHeader carries the token issued by GET /v1/auth/csrf.
const CSRFHeader = "X-CSRF-Token"

// CSRF verifies the session-bound token on state-changing requests.
// It must run after SessionID.
func CSRF(verifier domain.CSRFTokenGenerator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			token := c.Request().Header.Get(CSRFHeader)
			if token == "" || !verifier.Verify(SessionFrom(c), token) {
				return echo.NewHTTPError(http.StatusForbidden, "invalid csrf token")
			}
			return next(c)
		}
	}
}
