package domain

import "time"

// Identity is the backend's opaque reference to an authenticated user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is what the backend hands out after a successful sign-in or refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
