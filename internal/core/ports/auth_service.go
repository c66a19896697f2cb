package ports

import (
	"context"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// AuthService issues and revokes sessions on the backend side.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.Session, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ProfileService reads and changes authorization profiles.
type ProfileService interface {
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	SetRole(ctx context.Context, id string, role domain.Role, changedBy string) (*domain.Profile, error)
}
