package domain

import "time"

// AuthEventKind tags an auth-state notification from the backend.
type AuthEventKind string

const (
	EventInitialSession AuthEventKind = "INITIAL_SESSION"
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is delivered to OnAuthStateChange listeners.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SignedOut reports whether the event belongs to the signed-out class:
// an explicit sign-out, or any event that carries no session.
func (e AuthEvent) SignedOut() bool {
	return e.Kind == EventSignedOut || e.Session == nil
}

// RemoteAuthEvent is published by the backend when something happens to a
// user outside the current client (logout elsewhere, role change).
type RemoteAuthEvent struct {
	UserID     string        `json:"user_id"`
	Kind       AuthEventKind `json:"kind"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// AuditRecord is one entry of the backend's auth audit trail.
type AuditRecord struct {
	UserID     string
	Action     string
	Detail     string
	OccurredAt time.Time
}

const (
	AuditLogin       = "login"
	AuditLoginFailed = "login_failed"
	AuditLogout      = "logout"
	AuditRefresh     = "refresh"
	AuditSignup      = "signup"
	AuditRoleChanged = "role_changed"
)
