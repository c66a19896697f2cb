package domain

// SessionState is the in-memory view of who is signed in and with which
// role. Readers receive copies; only the session manager writes it.
type SessionState struct {
	Identity *Identity `json:"identity"`
	Role     Role      `json:"role"`
	Loading  bool      `json:"loading"`
	Error    string    `json:"error,omitempty"`
}

// Authenticated reports whether an identity is present.
func (s SessionState) Authenticated() bool { return s.Identity != nil }

// Clone returns a copy that shares no pointers with s.
func (s SessionState) Clone() SessionState {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// Routes the UI redirects to once the state has settled.
const (
	RouteLogin            = "/login"
	RouteUserDashboard    = "/dashboard"
	RouteTrainerDashboard = "/trainer"
	RouteAdminDashboard   = "/admin"
)

// LandingRoute returns where a client should send the user for state s.
// It returns "" while the state is still loading.
func LandingRoute(s SessionState) string {
	if s.Loading {
		return ""
	}
	if s.Identity == nil {
		return RouteLogin
	}
	switch s.Role {
	case RoleAdmin:
		return RouteAdminDashboard
	case RoleTrainer:
		return RouteTrainerDashboard
	default:
		return RouteUserDashboard
	}
}
