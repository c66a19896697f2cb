package handler

import (
	"time"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

type signupRequest struct {
	Email    string `json:"email"     validate:"required,email"`
	Password string `json:"password"  validate:"required,min=8"`
	FullName string `json:"full_name" validate:"omitempty,max=120"`
}

type passwordGrantRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user trainer admin"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	RefreshToken string          `json:"refresh_token"`
	User         domain.Identity `json:"user"`
}

type profileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, CreatedAt: u.CreatedAt}
}

func toTokenResponse(s *domain.Session, now time.Time) tokenResponse {
	return tokenResponse{
		AccessToken:  s.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.ExpiresAt.Sub(now).Seconds()),
		ExpiresAt:    s.ExpiresAt.Unix(),
		RefreshToken: s.RefreshToken,
		User:         s.Identity,
	}
}

func toProfileResponse(p *domain.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		Role:      string(p.Role),
		UpdatedAt: p.UpdatedAt,
	}
}

// errorResponse documents the envelope written by the API error handler.
type errorResponse struct {
	Error string `json:"error"`
}
