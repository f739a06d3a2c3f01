package domain

import "context"

// IdentityProvider is the mini app platform identity and consent API.
type IdentityProvider interface {
	GetIdentity(ctx context.Context) (*Identity, error)
	GetProfile(ctx context.Context) (*Profile, error)
	GetPhoneToken(ctx context.Context) (string, error)
	// RequestPermission shows the host consent dialog and returns the subset
	// of scopes the user granted.
	RequestPermission(ctx context.Context, scopes []Scope) ([]Scope, error)
}

// Directory resolves accounts and members from the backend.
type Directory interface {
	ResolveAccount(ctx context.Context, identity Identity) (*Account, error)
	ResolveMember(ctx context.Context, memberID string) (*Member, error)
}

// SessionCache persists auth fragments across restarts.
type SessionCache interface {
	Load(ctx context.Context, key string) (*Fragment, bool)
	Save(ctx context.Context, key string, fragment Fragment)
	Clear(ctx context.Context, key string)
}

// TokenIssuer signs member tokens for feature services.
type TokenIssuer interface {
	IssueMemberToken(view AuthView, sessionID string) (string, error)
}

// CSRFTokenGenerator generates CSRF tokens from session identifiers.
type CSRFTokenGenerator interface {
	Generate(sessionID string) (string, error)
	Verify(sessionID, token string) bool
}
