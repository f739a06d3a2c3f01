package handler

import (
	"context"
	"errors"
	"net/http"

	"yba-auth/internal/domain"

	"github.com/labstack/echo/v4"
)

// mapDomainError converts a domain error into an appropriate echo.HTTPError.
func mapDomainError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he

	case errors.Is(err, domain.ErrSessionMissing):
		return echo.NewHTTPError(http.StatusUnauthorized, "session required")

	case errors.Is(err, domain.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")

	case errors.Is(err, domain.ErrCSRFInvalid),
		errors.Is(err, domain.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")

	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrMemberNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")

	case errors.Is(err, domain.ErrNotInitialized):
		return echo.NewHTTPError(http.StatusConflict, "session not initialized")

	case errors.Is(err, domain.ErrIdentityUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "identity provider unavailable")

	case errors.Is(err, domain.ErrBackendUnreachable):
		return echo.NewHTTPError(http.StatusBadGateway, "directory unavailable")

	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")

	case errors.Is(err, domain.ErrTokenGeneration),
		errors.Is(err, domain.ErrCSRFSecretMissing):
		return echo.NewHTTPError(http.StatusInternalServerError, "token generation error")

	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// viewOutcome reports whether err is an auth outcome already published in
// AuthView.Error. Those answer 200 with the view.
func viewOutcome(err error) bool {
	return errors.Is(err, domain.ErrIdentityUnavailable) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrBackendUnreachable) ||
		errors.Is(err, domain.ErrAccountNotFound) ||
		errors.Is(err, domain.ErrMemberNotFound)
}
