package ports

import (
	"context"
	"time"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// UserRepository persists credentials.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
}

// ProfileRepository persists authorization profiles keyed by user ID.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Profile, error)
	Create(ctx context.Context, profile *domain.Profile) error
	// UpdateRole sets the role and returns the updated profile.
	UpdateRole(ctx context.Context, id string, role domain.Role, at time.Time) (*domain.Profile, error)
}

// RefreshTokenStore maps opaque refresh tokens to user IDs with a TTL.
type RefreshTokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	// Consume returns the owner of token and deletes it atomically.
	Consume(ctx context.Context, token string) (string, error)
	// Owner returns the user token was issued to without consuming it.
	Owner(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// AuthEventPublisher fans out remote auth events to connected clients.
type AuthEventPublisher interface {
	Publish(ctx context.Context, event domain.RemoteAuthEvent) error
}

// AuditRepository stores the auth audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, record *domain.AuditRecord) error
}

// AuditSink accepts audit records without blocking the caller.
type AuditSink interface {
	Enqueue(record domain.AuditRecord)
}
