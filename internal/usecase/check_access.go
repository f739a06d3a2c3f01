package usecase

import (
	"context"
	"errors"
	"log/slog"

	"yba-auth/internal/domain"
	ybaotel "yba-auth/utils/otel"
)

// AuthStateMachine is the part of AuthMachine the guard drives.
type AuthStateMachine interface {
	Initialize(ctx context.Context) (domain.AuthView, error)
	Settled(ctx context.Context) (domain.AuthView, error)
	Snapshot() domain.AuthView
	RequestProfilePermission(ctx context.Context, scopes []domain.Scope) (domain.AuthView, error)
}

// CheckAccess decides whether a screen may be entered, requesting missing
// scopes before navigation instead of after the screen renders.
type CheckAccess struct {
	machine AuthStateMachine
	logger  *slog.Logger
	metrics *ybaotel.AuthMetrics
}

// NewCheckAccess creates a new CheckAccess usecase.
func NewCheckAccess(m AuthStateMachine, l *slog.Logger, metrics *ybaotel.AuthMetrics) *CheckAccess {
	if l == nil {
		l = slog.Default()
	}
	return &CheckAccess{machine: m, logger: l, metrics: metrics}
}

// Execute evaluates req against the settled AuthView. At most one permission
// dialog is shown per call, carrying every missing scope at once. Membership
// is never prompted for.
func (uc *CheckAccess) Execute(ctx context.Context, req domain.Requirements) (domain.Decision, error) {
	if req.IsZero() {
		return uc.decide(ctx, true, domain.ReasonNone, uc.machine.Snapshot()), nil
	}

	if _, err := uc.machine.Initialize(ctx); err != nil && !errors.Is(err, domain.ErrIdentityUnavailable) {
		return domain.Decision{Reason: domain.ReasonPermissionsDenied, View: uc.machine.Snapshot()}, err
	}
	view, err := uc.machine.Settled(ctx)
	if err != nil {
		return domain.Decision{Reason: domain.ReasonPermissionsDenied, View: view}, err
	}

	var scopes []domain.Scope
	if req.RequireAuth && !authorized(view) {
		scopes = append(scopes, domain.ScopeBasicInfo)
	}
	if req.RequirePhone && !view.HasPhonePermission {
		scopes = append(scopes, domain.ScopePhone)
	}

	if len(scopes) > 0 {
		if _, err := uc.machine.RequestProfilePermission(ctx, scopes); err != nil {
			uc.logger.InfoContext(ctx, "access check permission request not satisfied", "scopes", scopes, "error", err)
		}
		if view, err = uc.machine.Settled(ctx); err != nil {
			return domain.Decision{Reason: domain.ReasonPermissionsDenied, View: view}, err
		}
	}

	switch {
	case req.RequireAuth && !authorized(view):
		return uc.decide(ctx, false, domain.ReasonPermissionsDenied, view), nil
	case req.RequirePhone && !view.HasPhonePermission:
		return uc.decide(ctx, false, domain.ReasonPhonePermissionDenied, view), nil
	case req.RequireMember && !view.IsMember:
		return uc.decide(ctx, false, domain.ReasonMemberRequired, view), nil
	default:
		return uc.decide(ctx, true, domain.ReasonAuthSuccess, view), nil
	}
}

// authorized reports whether view satisfies requireAuth: a resolved identity
// that has also consented to share its basic profile.
func authorized(view domain.AuthView) bool {
	return view.IsAuthenticated && view.HasProfilePermission
}

func (uc *CheckAccess) decide(ctx context.Context, ok bool, reason domain.Reason, view domain.AuthView) domain.Decision {
	uc.metrics.RecordDecision(ctx, string(reason))
	uc.logger.DebugContext(ctx, "access decision", "can_proceed", ok, "reason", reason, "user_type", view.UserType)
	return domain.Decision{CanProceed: ok, Reason: reason, View: view}
}
