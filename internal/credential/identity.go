// Package credential persists the signed-in identity (profile plus bearer
// token) across a durable store and a redundant cookie store.
package credential

import "strings"

// UserProfile is the account profile returned by the backend.
type UserProfile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Region      string `json:"region,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Onboarding fields, as reported by MissingOnboardingFields.
const (
	FieldRegion      = "region"
	FieldDateOfBirth = "dateOfBirth"
	FieldPhone       = "phone"
)

// MissingOnboardingFields lists the onboarding fields that are blank.
func (u UserProfile) MissingOnboardingFields() []string {
	var missing []string
	if strings.TrimSpace(u.Region) == "" {
		missing = append(missing, FieldRegion)
	}
	if strings.TrimSpace(u.DateOfBirth) == "" {
		missing = append(missing, FieldDateOfBirth)
	}
	if strings.TrimSpace(u.Phone) == "" {
		missing = append(missing, FieldPhone)
	}
	return missing
}

// NeedsOnboarding reports whether the region, date of birth or phone is
// missing. It is evaluated from the fields on every call.
func (u UserProfile) NeedsOnboarding() bool {
	return len(u.MissingOnboardingFields()) > 0
}

// IdentitySnapshot is the persisted identity.
type IdentitySnapshot struct {
	User        UserProfile `json:"user"`
	BearerToken string      `json:"bearerToken"`
}

// Clone returns an independent copy.
func (s *IdentitySnapshot) Clone() *IdentitySnapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
