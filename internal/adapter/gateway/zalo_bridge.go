package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"yba-auth/internal/domain"

	"github.com/tidwall/gjson"
)

// Zalo scope names used at the bridge boundary.
const (
	zaloScopeUserInfo  = "scope.userInfo"
	zaloScopePhone     = "scope.userPhonenumber"
	bridgeSessionsPath = "/sessions/"
)

// ZaloBridge talks to the mini app host bridge, which relays zmp-sdk calls
// (getUserID, getUserInfo, getPhoneNumber, authorize) for a live session.
type ZaloBridge struct {
	baseURL string
	// client bounds identity, profile and phone calls.
	client *http.Client
	// dialogClient has no timeout: consent dialogs are bounded by the caller.
	dialogClient *http.Client
}

// NewZaloBridge creates a bridge client.
func NewZaloBridge(baseURL string, timeout time.Duration) *ZaloBridge {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &ZaloBridge{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: timeout, Transport: transport},
		dialogClient: &http.Client{Transport: transport},
	}
}

// ForSession returns the identity provider for one mini app session.
func (b *ZaloBridge) ForSession(sessionID string) domain.IdentityProvider {
	return &zaloSession{bridge: b, sessionID: sessionID}
}

type zaloSession struct {
	bridge    *ZaloBridge
	sessionID string
}

func (s *zaloSession) GetIdentity(ctx context.Context) (*domain.Identity, error) {
	body, err := s.call(ctx, s.bridge.client, http.MethodGet, "identity", nil)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return nil, fmt.Errorf("%w: bridge returned no user id", domain.ErrIdentityUnavailable)
	}
	return &domain.Identity{ID: id}, nil
}

func (s *zaloSession) GetProfile(ctx context.Context) (*domain.Profile, error) {
	body, err := s.call(ctx, s.bridge.client, http.MethodGet, "profile", nil)
	if err != nil {
		return nil, err
	}
	info := gjson.GetBytes(body, "userInfo")
	return &domain.Profile{
		ID:     info.Get("id").String(),
		Name:   info.Get("name").String(),
		Avatar: info.Get("avatar").String(),
	}, nil
}

func (s *zaloSession) GetPhoneToken(ctx context.Context) (string, error) {
	body, err := s.call(ctx, s.bridge.client, http.MethodGet, "phone-token", nil)
	if err != nil {
		return "", err
	}
	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", domain.ErrPermissionDenied
	}
	return token, nil
}

// RequestPermission relays an authorize call. The bridge answers with a map
// of Zalo scope name to grant flag.
func (s *zaloSession) RequestPermission(ctx context.Context, scopes []domain.Scope) ([]domain.Scope, error) {
	names := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		names = append(names, toZaloScope(sc))
	}
	payload, err := json.Marshal(map[string][]string{"scopes": names})
	if err != nil {
		return nil, err
	}

	body, err := s.call(ctx, s.bridge.dialogClient, http.MethodPost, "authorize", payload)
	if err != nil {
		return nil, err
	}

	var granted []domain.Scope
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if !value.Bool() {
			return true
		}
		if sc, ok := domain.ParseScope(key.String()); ok {
			granted = append(granted, sc)
		}
		return true
	})
	return granted, nil
}

func (s *zaloSession) call(ctx context.Context, client *http.Client, method, op string, payload []byte) ([]byte, error) {
	endpoint := s.bridge.baseURL + bridgeSessionsPath + url.PathEscape(s.sessionID) + "/" + op

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIdentityUnavailable, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrIdentityUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrPermissionDenied
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: bridge returned status %d for %s", domain.ErrIdentityUnavailable, resp.StatusCode, op)
	case !gjson.ValidBytes(body):
		return nil, fmt.Errorf("%w: malformed %s response", domain.ErrIdentityUnavailable, op)
	}
	return body, nil
}

func toZaloScope(s domain.Scope) string {
	switch s {
	case domain.ScopeBasicInfo:
		return zaloScopeUserInfo
	case domain.ScopePhone:
		return zaloScopePhone
	default:
		return string(s)
	}
}
