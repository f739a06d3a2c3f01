package domain

// AccountType classifies an Account in the directory.
type AccountType string

const (
	AccountGuest         AccountType = "guest"
	AccountMember        AccountType = "member"
	AccountAdministrator AccountType = "administrator"
)

// MemberStatus is the closed set of membership states.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
	MemberLeft     MemberStatus = "left"
	MemberUnknown  MemberStatus = "unknown"
)

// Account is the directory record keyed by the platform identity.
type Account struct {
	ID       string      `json:"id"`
	ZaloID   string      `json:"zaloId"`
	Type     AccountType `json:"type"`
	MemberID string      `json:"memberId,omitempty"`
}

// HasMember reports whether the account is linked to a member record.
func (a *Account) HasMember() bool {
	return a != nil && a.MemberID != ""
}

// Member is the membership record linked from an Account.
type Member struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         MemberStatus `json:"status"`
	Chapter        string       `json:"chapter,omitempty"`
	MembershipType string       `json:"membershipType,omitempty"`
}

// IsActive reports whether the member is currently active.
func (m *Member) IsActive() bool {
	return m != nil && m.Status == MemberActive
}
