package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"yba-auth/utils/logger"
)

// SessionHeader carries the mini app session id.
const SessionHeader = "X-Session-Id"

const (
	sessionContextKey = "sessionID"
	maxSessionIDLen   = 128
)

// SessionID requires a well-formed X-Session-Id header and stores it on the
// echo context and in the request context for logging.
func SessionID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := c.Request().Header.Get(SessionHeader)
			if sid == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session id")
			}
			if !validSessionID(sid) {
				return echo.NewHTTPError(http.StatusBadRequest, "malformed session id")
			}

			c.Set(sessionContextKey, sid)
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithSessionID(req.Context(), sid)))
			return next(c)
		}
	}
}

// SessionFrom returns the session id stored by SessionID.
func SessionFrom(c echo.Context) string {
	sid, _ := c.Get(sessionContextKey).(string)
	return sid
}

// validSessionID accepts URL-safe ids up to maxSessionIDLen bytes.
func validSessionID(sid string) bool {
	if len(sid) > maxSessionIDLen {
		return false
	}
	for i := 0; i < len(sid); i++ {
		ch := sid[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == '~':
		default:
			return false
		}
	}
	return true
}
