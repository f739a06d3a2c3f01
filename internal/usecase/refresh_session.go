package usecase

import (
	"context"
	"errors"
	"log/slog"

	"yba-auth/internal/domain"
)

// RefreshSession re-resolves a live session on behalf of the backend, e.g.
// after a member record was edited. Unknown sessions are not created.
type RefreshSession struct {
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewRefreshSession creates a new RefreshSession usecase.
func NewRefreshSession(s *SessionRegistry, l *slog.Logger) *RefreshSession {
	return &RefreshSession{sessions: s, logger: l}
}

// Execute refreshes the session's account and member. When memberID is the
// member linked to the session only that member is re-fetched; any other id
// means the link changed and the whole directory view is re-resolved.
func (uc *RefreshSession) Execute(ctx context.Context, sessionID, memberID string) (domain.AuthView, error) {
	m, err := uc.sessions.Lookup(sessionID)
	if err != nil {
		return domain.GuestView(), err
	}

	if memberID != "" {
		uc.logger.InfoContext(ctx, "refreshing member for session", "yba.session.id", sessionID, "member_id", memberID)
		v, err := m.RefreshMember(ctx, memberID)
		if !errors.Is(err, domain.ErrInvalidRequest) {
			return v, err
		}
		uc.logger.InfoContext(ctx, "member not linked to session, re-resolving account", "yba.session.id", sessionID, "member_id", memberID)
	}
	uc.logger.InfoContext(ctx, "refreshing session", "yba.session.id", sessionID)
	return m.Refresh(ctx)
}
