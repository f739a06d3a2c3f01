package domain

// UserType is the role derived from the account and member records.
type UserType string

const (
	UserGuest  UserType = "guest"
	UserMember UserType = "member"
	UserAdmin  UserType = "admin"
)

// State is the resolution stage of the auth state machine.
type State string

const (
	StateUninitialized     State = "uninitialized"
	StateResolvingIdentity State = "resolving_identity"
	StateResolvingAccount  State = "resolving_account"
	StateResolvingMember   State = "resolving_member"
	StateReady             State = "ready"
	StatePermissionPending State = "permission_pending"
	StateError             State = "error"
)

// AuthView is the read model published to consumers. Values are snapshots;
// consumers never mutate the machine through them.
type AuthView struct {
	State                State    `json:"state"`
	IsAuthenticated      bool     `json:"isAuthenticated"`
	HasProfilePermission bool     `json:"hasProfilePermission"`
	HasPhonePermission   bool     `json:"hasPhonePermission"`
	UserType             UserType `json:"userType"`
	IsAdmin              bool     `json:"isAdmin"`
	IsMember             bool     `json:"isMember"`
	IdentityID           string   `json:"identityId,omitempty"`
	Profile              *Profile `json:"profile"`
	Member               *Member  `json:"member"`
	Account              *Account `json:"account"`
	IsLoading            bool     `json:"isLoading"`
	Error                string   `json:"error,omitempty"`
}

// GuestView returns the defaults of an uninitialized session.
func GuestView() AuthView {
	return AuthView{
		State:    StateUninitialized,
		UserType: UserGuest,
	}
}

// DeriveUserType computes the user type from the account and member records.
func DeriveUserType(account *Account, member *Member) UserType {
	switch {
	case account != nil && account.Type == AccountAdministrator:
		return UserAdmin
	case member.IsActive():
		return UserMember
	default:
		return UserGuest
	}
}

// Derive recomputes UserType, IsAdmin and IsMember from Account and Member.
// No other code sets these fields.
func (v *AuthView) Derive() {
	v.UserType = DeriveUserType(v.Account, v.Member)
	v.IsAdmin = v.UserType == UserAdmin
	v.IsMember = v.UserType == UserMember
}

// Clone returns a deep copy so snapshots never share pointers with the owner.
func (v AuthView) Clone() AuthView {
	if v.Profile != nil {
		p := *v.Profile
		v.Profile = &p
	}
	if v.Member != nil {
		m := *v.Member
		v.Member = &m
	}
	if v.Account != nil {
		a := *v.Account
		v.Account = &a
	}
	return v
}
