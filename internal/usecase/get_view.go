package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"yba-auth/internal/domain"
)

// ViewResult holds the data returned by GetView.
type ViewResult struct {
	SessionID   string
	View        domain.AuthView
	MemberToken string
}

// GetView initializes the session's machine and returns its AuthView along
// with a signed member token for feature services.
type GetView struct {
	sessions *SessionRegistry
	token    domain.TokenIssuer
	logger   *slog.Logger
}

// NewGetView creates a new GetView usecase.
func NewGetView(s *SessionRegistry, t domain.TokenIssuer, l *slog.Logger) *GetView {
	return &GetView{sessions: s, token: t, logger: l}
}

// Execute returns the settled view for sessionID. Identity failures are
// reported through the view, not as an error.
func (uc *GetView) Execute(ctx context.Context, sessionID string) (*ViewResult, error) {
	m, err := uc.sessions.Machine(sessionID)
	if err != nil {
		return nil, err
	}

	view, err := m.Initialize(ctx)
	if err != nil && !errors.Is(err, domain.ErrIdentityUnavailable) {
		return nil, err
	}
	if view, err = m.Settled(ctx); err != nil {
		return nil, err
	}

	result := &ViewResult{SessionID: sessionID, View: view}
	if !view.IsAuthenticated {
		return result, nil
	}

	memberToken, err := uc.token.IssueMemberToken(view, sessionID)
	if err != nil {
		uc.logger.ErrorContext(ctx, "failed to issue member token", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenGeneration, err)
	}
	result.MemberToken = memberToken
	return result, nil
}
