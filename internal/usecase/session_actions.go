package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"yba-auth/internal/domain"
	ybaotel "yba-auth/utils/otel"
)

// SessionActions exposes the imperative auth actions of a session.
type SessionActions struct {
	sessions *SessionRegistry
	logger   *slog.Logger
	metrics  *ybaotel.AuthMetrics
}

// NewSessionActions creates a new SessionActions usecase.
func NewSessionActions(s *SessionRegistry, l *slog.Logger, metrics *ybaotel.AuthMetrics) *SessionActions {
	return &SessionActions{sessions: s, logger: l, metrics: metrics}
}

// ActivateGuest bootstraps an authenticated guest session without consent.
func (uc *SessionActions) ActivateGuest(ctx context.Context, sessionID string) (domain.AuthView, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}
	return m.ActivateGuestSession(ctx)
}

// Refresh re-resolves the session's account and member.
func (uc *SessionActions) Refresh(ctx context.Context, sessionID string) (domain.AuthView, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}
	return m.Refresh(ctx)
}

// RequestPermission asks for the named scopes. Both the short names and the
// Zalo scope names are accepted.
func (uc *SessionActions) RequestPermission(ctx context.Context, sessionID string, names []string) (domain.AuthView, error) {
	scopes := make([]domain.Scope, 0, len(names))
	for _, n := range names {
		s, ok := domain.ParseScope(n)
		if !ok {
			return domain.GuestView(), fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidRequest, n)
		}
		scopes = append(scopes, s)
	}

	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}
	return m.RequestProfilePermission(ctx, scopes)
}

// RefreshMember re-fetches the member linked to the session's account.
func (uc *SessionActions) RefreshMember(ctx context.Context, sessionID string) (domain.AuthView, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}
	return m.RefreshMember(ctx, "")
}

// Logout resets the session to guest defaults.
func (uc *SessionActions) Logout(ctx context.Context, sessionID string) (domain.AuthView, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}
	return m.Logout(ctx), nil
}

// CheckAccess runs the navigation guard for the session.
func (uc *SessionActions) CheckAccess(ctx context.Context, sessionID string, req domain.Requirements) (domain.Decision, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return domain.Decision{Reason: domain.ReasonPermissionsDenied, View: domain.GuestView()}, err
	}
	return NewCheckAccess(m, uc.logger, uc.metrics).Execute(ctx, req)
}
