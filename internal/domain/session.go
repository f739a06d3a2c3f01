package domain

import "time"

// FragmentVersion is bumped when the Fragment layout changes.
const FragmentVersion = 1

// Fragment is the part of an AuthView persisted in the session cache.
type Fragment struct {
	Version    int       `json:"v"`
	IdentityID string    `json:"identityId"`
	Grants     Grants    `json:"grants"`
	Profile    *Profile  `json:"profile,omitempty"`
	Account    *Account  `json:"account,omitempty"`
	Member     *Member   `json:"member,omitempty"`
	SavedAt    time.Time `json:"savedAt"`
}
