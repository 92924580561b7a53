package session

import (
	"time"

	"github.com/stockway/portal/internal/role"
)

// Identity is the user record returned by the backend for the signed-in user.
type Identity struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email,omitempty"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	FullName       string     `json:"full_name"`
	Role           role.Role  `json:"role"`
	IsActive       bool       `json:"is_active"`
	DateJoined     time.Time  `json:"date_joined,omitzero"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
}

// DisplayName is how the user is greeted: the full name, falling back to
// the email or phone number.
func (i Identity) DisplayName() string {
	switch {
	case i.FullName != "":
		return i.FullName
	case i.Email != "":
		return i.Email
	default:
		return i.PhoneNumber
	}
}

// Session is the authentication state of the running client.
type Session struct {
	Identity     *Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when unknown
}

// IsAuthenticated is derived from the access token only.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// Role returns the identity role, Unknown when there is no identity.
func (s Session) Role() role.Role {
	if s.Identity == nil {
		return role.Unknown
	}
	return s.Identity.Role
}

// Expired reports whether the access token is known to be expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s Session) clone() Session {
	if s.Identity != nil {
		identity := *s.Identity
		if identity.LastLogin != nil {
			lastLogin := *identity.LastLogin
			identity.LastLogin = &lastLogin
		}
		s.Identity = &identity
	}
	return s
}

// Snapshot is a point-in-time copy of the store state handed to readers.
type Snapshot struct {
	Session
	IsLoading bool
}

// Record is the durable form of a Session: three logical keys written and
// cleared together.
type Record struct {
	AccessToken  string
	RefreshToken string
	Identity     *Identity
}

// Consistent reports whether the record holds a token together with an identity.
func (r Record) Consistent() bool {
	return r.AccessToken != "" && r.Identity != nil
}

// Empty reports whether none of the three keys is set.
func (r Record) Empty() bool {
	return r.AccessToken == "" && r.RefreshToken == "" && r.Identity == nil
}

// Credential is what a sign in or sign up form submits. A non-empty OTP
// selects the one-time-code flow, otherwise the password is used.
type Credential struct {
	Email    string
	Password string
	OTP      string
}

// Tokens is the backend answer to a successful authentication.
type Tokens struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	TokenType    string   `json:"token_type"`
	User         Identity `json:"user"`
}

// OTPChallenge is the backend answer to an OTP request.
type OTPChallenge struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Email   string `json:"email"`
}
