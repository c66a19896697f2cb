package domain

import "strings"

// Role is an authorization tag used to gate dashboards and redirects.
// The zero value means no role is known.
type Role string

const (
	RoleNone    Role = ""
	RoleUser    Role = "user"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

// FallbackRole is assigned whenever role resolution cannot complete.
const FallbackRole = RoleUser

// ParseRole converts a raw profile value into a Role.
// Unknown values return ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleTrainer, RoleAdmin:
		return r, nil
	default:
		return RoleNone, ErrInvalidRole
	}
}

// Valid reports whether r is exactly one of the closed set of roles.
// Use ParseRole for raw stored values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleTrainer, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
