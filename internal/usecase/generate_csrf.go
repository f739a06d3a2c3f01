package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"yba-auth/internal/domain"
)

// GenerateCSRF issues a CSRF token bound to a mini app session.
type GenerateCSRF struct {
	csrf   domain.CSRFTokenGenerator
	logger *slog.Logger
}

// NewGenerateCSRF creates a new GenerateCSRF usecase.
func NewGenerateCSRF(csrf domain.CSRFTokenGenerator, l *slog.Logger) *GenerateCSRF {
	return &GenerateCSRF{csrf: csrf, logger: l}
}

// Execute generates a CSRF token for sessionID.
func (uc *GenerateCSRF) Execute(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", domain.ErrSessionMissing
	}

	token, err := uc.csrf.Generate(sessionID)
	if err != nil {
		uc.logger.ErrorContext(ctx, "failed to generate CSRF token", "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrCSRFSecretMissing, err)
	}

	return token, nil
}
