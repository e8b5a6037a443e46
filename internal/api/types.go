package api

import (
	"allin/internal/credential"
)

// LoginRequest is the body of POST auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// ProfileUpdate is the body of PUT auth/profile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Username    *string `json:"username,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Region      *string `json:"region,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Phone == nil && u.DateOfBirth == nil && u.Region == nil
}

// Apply returns p with the update's non-nil fields applied.
func (u ProfileUpdate) Apply(p credential.UserProfile) credential.UserProfile {
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.DateOfBirth != nil {
		p.DateOfBirth = *u.DateOfBirth
	}
	if u.Region != nil {
		p.Region = *u.Region
	}
	return p
}

// authResponse is the data of login and register responses. The backend has
// shipped the token as both "bearerToken" and "token".
type authResponse struct {
	User        credential.UserProfile `json:"user"`
	BearerToken string                 `json:"bearerToken"`
	Token       string                 `json:"token"`
}

func (r authResponse) token() string {
	if r.BearerToken != "" {
		return r.BearerToken
	}
	return r.Token
}

type refreshResponse struct {
	BearerToken string `json:"bearerToken"`
	Token       string `json:"token"`
}

type permissionsResponse struct {
	Entitlements []string `json:"entitlements"`
}
