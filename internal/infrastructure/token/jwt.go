package token

import (
	"errors"
	"time"

	"yba-auth/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds JWT generation configuration.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// MemberClaims are the claims feature services read from a member token.
type MemberClaims struct {
	UserType  domain.UserType `json:"userType"`
	AccountID string          `json:"accountId,omitempty"`
	MemberID  string          `json:"memberId,omitempty"`
	Chapter   string          `json:"chapter,omitempty"`
	Sid       string          `json:"sid"`
	jwt.RegisteredClaims
}

// MemberTokenIssuer signs member tokens with HS256.
// Implements domain.TokenIssuer.
type MemberTokenIssuer struct {
	cfg JWTConfig
	now func() time.Time
}

// NewMemberTokenIssuer creates a new member token issuer.
func NewMemberTokenIssuer(cfg JWTConfig) *MemberTokenIssuer {
	return &MemberTokenIssuer{cfg: cfg, now: time.Now}
}

// IssueMemberToken signs the role-relevant part of view for sessionID.
func (j *MemberTokenIssuer) IssueMemberToken(view domain.AuthView, sessionID string) (string, error) {
	if view.IdentityID == "" {
		return "", errors.New("view has no identity")
	}

	now := j.now()
	claims := MemberClaims{
		UserType: view.UserType,
		Sid:      sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.cfg.Issuer,
			Audience:  jwt.ClaimStrings{j.cfg.Audience},
			Subject:   view.IdentityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TTL)),
		},
	}
	if view.Account != nil {
		claims.AccountID = view.Account.ID
	}
	if view.Member != nil {
		claims.MemberID = view.Member.ID
		claims.Chapter = view.Member.Chapter
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.cfg.Secret))
}

// Parse validates tokenStr and returns its claims.
func (j *MemberTokenIssuer) Parse(tokenStr string) (*MemberClaims, error) {
	claims := &MemberClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(j.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.cfg.Issuer),
		jwt.WithAudience(j.cfg.Audience),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
