package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yba-auth/internal/domain"

	"github.com/tidwall/gjson"
)

const accountByZaloIDQuery = `query AccountByZaloID($zaloId: String!) {
  accounts(filters: { zaloId: { eq: $zaloId } }, pagination: { limit: 1 }) {
    documentId
    zaloId
    accountType
    member { documentId }
  }
}`

const memberByIDQuery = `query MemberByID($id: ID!) {
  member(documentId: $id) {
    documentId
    fullName
    status
    membershipType
    chapter { name }
  }
}`

// maxResponseBytes caps a directory response body.
const maxResponseBytes = 1 << 20

// StrapiDirectory implements domain.Directory over the Strapi GraphQL API.
type StrapiDirectory struct {
	endpoint   string
	apiToken   string
	httpClient *http.Client
}

// NewStrapiDirectory creates a new directory gateway with tuned HTTP transport.
func NewStrapiDirectory(endpoint, apiToken string, timeout time.Duration) *StrapiDirectory {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &StrapiDirectory{
		endpoint: endpoint,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// ResolveAccount finds the account linked to a platform identity.
func (g *StrapiDirectory) ResolveAccount(ctx context.Context, identity domain.Identity) (*domain.Account, error) {
	data, err := g.query(ctx, accountByZaloIDQuery, map[string]any{"zaloId": identity.ID})
	if err != nil {
		return nil, err
	}

	node := data.Get("accounts.0")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, domain.ErrAccountNotFound
	}

	return &domain.Account{
		ID:       node.Get("documentId").String(),
		ZaloID:   node.Get("zaloId").String(),
		Type:     parseAccountType(node.Get("accountType").String()),
		MemberID: node.Get("member.documentId").String(),
	}, nil
}

// ResolveMember fetches a member by id.
func (g *StrapiDirectory) ResolveMember(ctx context.Context, memberID string) (*domain.Member, error) {
	data, err := g.query(ctx, memberByIDQuery, map[string]any{"id": memberID})
	if err != nil {
		return nil, err
	}

	node := data.Get("member")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, domain.ErrMemberNotFound
	}

	return &domain.Member{
		ID:             node.Get("documentId").String(),
		Name:           node.Get("fullName").String(),
		Status:         parseMemberStatus(node.Get("status").String()),
		Chapter:        node.Get("chapter.name").String(),
		MembershipType: node.Get("membershipType").String(),
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// query posts a GraphQL request and returns its "data" member.
func (g *StrapiDirectory) query(ctx context.Context, query string, vars map[string]any) (gjson.Result, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: encode request: %w", domain.ErrBackendUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %w", domain.ErrBackendUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %w", domain.ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read response: %w", domain.ErrBackendUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: directory returned status %d", domain.ErrBackendUnreachable, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: malformed response", domain.ErrBackendUnreachable)
	}

	if errs := gjson.GetBytes(raw, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return gjson.Result{}, fmt.Errorf("%w: %s", domain.ErrBackendUnreachable, errs.Get("0.message").String())
	}
	return gjson.GetBytes(raw, "data"), nil
}

// parseAccountType maps the directory's free-text account type onto the
// closed enum. Unrecognised values are treated as guest.
func parseAccountType(s string) domain.AccountType {
	switch normalize(s) {
	case "administrator", "admin", "quản trị viên", "quan tri vien", "quản trị":
		return domain.AccountAdministrator
	case "member", "regular", "hội viên", "hoi vien", "thành viên":
		return domain.AccountMember
	default:
		return domain.AccountGuest
	}
}

// parseMemberStatus maps the directory's free-text member status onto the
// closed enum.
func parseMemberStatus(s string) domain.MemberStatus {
	switch normalize(s) {
	case "active", "đang hoạt động", "dang hoat dong", "hoạt động":
		return domain.MemberActive
	case "inactive", "ngừng hoạt động", "ngung hoat dong", "tạm ngưng":
		return domain.MemberInactive
	case "left", "đã rời hội", "da roi hoi", "rời hội":
		return domain.MemberLeft
	default:
		return domain.MemberUnknown
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
