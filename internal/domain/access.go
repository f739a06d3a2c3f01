package domain

// Requirements are the access requirements a screen declares.
type Requirements struct {
	RequireAuth   bool `json:"requireAuth"`
	RequireMember bool `json:"requireMember"`
	RequirePhone  bool `json:"requirePhone"`
}

// IsZero reports whether no requirement is set.
func (r Requirements) IsZero() bool {
	return !r.RequireAuth && !r.RequireMember && !r.RequirePhone
}

// Reason explains an access decision.
type Reason string

const (
	ReasonNone                  Reason = "none"
	ReasonAuthSuccess           Reason = "auth_success"
	ReasonPermissionsDenied     Reason = "permissions_denied"
	ReasonPhonePermissionDenied Reason = "phone_permission_denied"
	ReasonMemberRequired        Reason = "member_required"
)

// Decision is the outcome of an access check.
type Decision struct {
	CanProceed bool     `json:"canProceed"`
	Reason     Reason   `json:"reason"`
	View       AuthView `json:"resolvedView"`
}
