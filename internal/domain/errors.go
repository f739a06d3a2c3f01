package domain

import "errors"

// Identity and permission errors.
var (
	ErrIdentityUnavailable = errors.New("platform identity unavailable")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotInitialized      = errors.New("auth state not initialized")
)

// Directory errors.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrBackendUnreachable = errors.New("directory backend unreachable")
)

// Session cache errors.
var (
	ErrCacheCorrupt = errors.New("session cache entry corrupt")
)

// Service errors.
var (
	ErrSessionMissing    = errors.New("session id missing")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrTokenGeneration   = errors.New("token generation failed")
	ErrCSRFSecretMissing = errors.New("CSRF secret not configured")
	ErrCSRFInvalid       = errors.New("CSRF token invalid")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// View error codes published in AuthView.Error.
const (
	CodeIdentityUnavailable = "IdentityUnavailable"
	CodeBackendUnreachable  = "BackendUnreachable"
	CodeMemberNotFound      = "MemberNotFound"
	CodePermissionDenied    = "permission_denied"
)

// ErrorCode maps an error onto the code exposed in AuthView.Error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIdentityUnavailable):
		return CodeIdentityUnavailable
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrMemberNotFound):
		return CodeMemberNotFound
	default:
		return CodeBackendUnreachable
	}
}
