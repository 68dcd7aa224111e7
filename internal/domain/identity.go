package domain

import (
	"strings"
	"time"
)

// Identity is the authenticated principal as recognized by the credential backend.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// DisplayName derives a human name: metadata name, else the email local part.
func DisplayName(email, metadataName string) string {
	if n := strings.TrimSpace(metadataName); n != "" {
		return n
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

// Session is the token pair issued by the credential backend for one identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignUpResult is what account creation returns. Session is nil when the
// backend requires email confirmation before the first sign-in.
type SignUpResult struct {
	User    Identity
	Session *Session
}

// Profile is the mutable display record attached one-to-one to an Identity.
type Profile struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// OwnerID implements ownership checks; a profile is owned by its own identity.
func (p Profile) OwnerID() string { return p.ID }

// ProfileUpdate is the patch accepted for the owner's profile.
type ProfileUpdate struct {
	Name *string `json:"name,omitempty"`
}

// Validate checks the patch before it reaches the backend.
func (u ProfileUpdate) Validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return &ErrValidation{Field: "name", Message: "must not be empty"}
	}
	return nil
}

// SignInRequest is the body for POST /v1/auth/signin.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest is the body for POST /v1/auth/signup.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate checks the request shape; credential strength is the backend's call.
func (r SignUpRequest) Validate() error {
	if !strings.Contains(r.Email, "@") {
		return &ErrValidation{Field: "email", Message: "must be a valid email address"}
	}
	if len(r.Password) < 6 {
		return &ErrValidation{Field: "password", Message: "must have at least 6 characters"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ErrValidation{Field: "name", Message: "is required"}
	}
	return nil
}
