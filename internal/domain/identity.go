package domain

// Identity is the pseudonymous user id issued by the mini app platform.
type Identity struct {
	ID string `json:"id"`
}

// Profile is the consent-gated profile of the platform user.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Scope is a named consent grant requested from the platform.
type Scope string

const (
	ScopeBasicInfo Scope = "basicInfo"
	ScopePhone     Scope = "phone"
)

// ParseScope accepts both the internal scope names and the platform names.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case string(ScopeBasicInfo), "scope.userInfo", "userInfo":
		return ScopeBasicInfo, true
	case string(ScopePhone), "scope.userPhonenumber", "phoneNumber":
		return ScopePhone, true
	default:
		return "", false
	}
}

// Grants records which scopes the user has consented to.
type Grants struct {
	BasicInfo bool `json:"basicInfo"`
	Phone     bool `json:"phone"`
}

// Has reports whether scope s is granted.
func (g Grants) Has(s Scope) bool {
	switch s {
	case ScopeBasicInfo:
		return g.BasicInfo
	case ScopePhone:
		return g.Phone
	default:
		return false
	}
}

// With returns a copy of g with the given scopes marked as granted.
// Scopes are merged one by one, so a partial grant only flips its own flags.
func (g Grants) With(scopes ...Scope) Grants {
	for _, s := range scopes {
		switch s {
		case ScopeBasicInfo:
			g.BasicInfo = true
		case ScopePhone:
			g.Phone = true
		}
	}
	return g
}

// Without returns a copy of g with the given scope revoked.
func (g Grants) Without(s Scope) Grants {
	switch s {
	case ScopeBasicInfo:
		g.BasicInfo = false
	case ScopePhone:
		g.Phone = false
	}
	return g
}

// Missing returns the requested scopes that are not granted yet, deduplicated
// and in request order.
func (g Grants) Missing(requested ...Scope) []Scope {
	var out []Scope
	seen := make(map[Scope]bool, len(requested))
	for _, s := range requested {
		if seen[s] || g.Has(s) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
