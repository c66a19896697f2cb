package ports

import (
	"context"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// AuthStateListener receives auth-state notifications from the backend.
type AuthStateListener func(event domain.AuthEvent)

// Subscription is the handle returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// SessionSource is the part of the backend the session bootstrap and the
// auth event listener depend on.
type SessionSource interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domain.Session, error)
	OnAuthStateChange(listener AuthStateListener) Subscription
}

// ProfileRoleLookup is a point lookup of the role stored on a profile.
// It returns domain.ErrProfileNotFound when no record exists and a
// transient error (see domain.IsTransient) on 5xx/network failures.
type ProfileRoleLookup interface {
	QueryProfileRole(ctx context.Context, identityID string) (domain.Role, error)
}

// Authenticator mutates the backend-held session. Used by login screens
// and CLIs, not by the resolver.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context) error
}

// AuthBackend is the full client-side surface of the auth backend.
type AuthBackend interface {
	SessionSource
	ProfileRoleLookup
	Authenticator
}
