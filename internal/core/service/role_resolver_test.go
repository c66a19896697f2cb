package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type lookupResult struct {
	role domain.Role
	err  error
}

// scriptedLookup answers QueryProfileRole from a script; the last entry
// repeats once the script runs out.
type scriptedLookup struct {
	mu     sync.Mutex
	script []lookupResult
	calls  []string
}

func (l *scriptedLookup) QueryProfileRole(_ context.Context, id string) (domain.Role, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, id)
	i := len(l.calls) - 1
	if i >= len(l.script) {
		i = len(l.script) - 1
	}
	return l.script[i].role, l.script[i].err
}

func (l *scriptedLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

var unavailable = &domain.BackendError{StatusCode: 503, Message: "service unavailable"}

func newTestResolver(lookup *scriptedLookup, sleeper *recordingSleeper) *RoleResolver {
	return NewRoleResolver(lookup, RoleResolverOptions{Sleep: sleeper.sleep}, zerolog.Nop())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRoleResolver_FirstAttemptSucceeds(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{{role: domain.RoleTrainer}}}
	sleeper := &recordingSleeper{}

	role := newTestResolver(lookup, sleeper).Resolve(context.Background(), "user-1")

	if role != domain.RoleTrainer {
		t.Fatalf("expected trainer, got %q", role)
	}
	if lookup.callCount() != 1 {
		t.Fatalf("expected 1 lookup, got %d", lookup.callCount())
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("expected no backoff, got %v", sleeper.delays)
	}
}

func TestRoleResolver_BackoffSchedule(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{
		{err: unavailable},
		{err: unavailable},
		{err: unavailable},
		{role: domain.RoleAdmin},
	}}
	sleeper := &recordingSleeper{}

	role := newTestResolver(lookup, sleeper).Resolve(context.Background(), "user-1")

	if role != domain.RoleAdmin {
		t.Fatalf("expected admin from the 4th call, got %q", role)
	}
	if lookup.callCount() != 4 {
		t.Fatalf("expected exactly 4 lookups, got %d", lookup.callCount())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("delay %d: expected %v, got %v", i, want[i], sleeper.delays[i])
		}
	}
}

func TestRoleResolver_CustomBaseDelay(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{{err: unavailable}, {err: unavailable}, {role: domain.RoleUser}}}
	sleeper := &recordingSleeper{}
	r := NewRoleResolver(lookup, RoleResolverOptions{BaseDelay: 50 * time.Millisecond, Sleep: sleeper.sleep}, zerolog.Nop())

	r.Resolve(context.Background(), "user-1")

	if len(sleeper.delays) != 2 || sleeper.delays[0] != 50*time.Millisecond || sleeper.delays[1] != 100*time.Millisecond {
		t.Fatalf("unexpected delays: %v", sleeper.delays)
	}
}

func TestRoleResolver_RetriesExhaustedFallsBack(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{{err: unavailable}}}
	sleeper := &recordingSleeper{}

	role := newTestResolver(lookup, sleeper).Resolve(context.Background(), "user-1")

	if role != domain.RoleUser {
		t.Fatalf("expected fallback user, got %q", role)
	}
	if lookup.callCount() != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", lookup.callCount())
	}
}

func TestRoleResolver_FallbackCases(t *testing.T) {
	cases := map[string]lookupResult{
		"profile not found": {err: domain.ErrProfileNotFound},
		"no role set":       {role: domain.RoleNone},
		"unknown role":      {role: domain.Role("superuser")},
		"non-retryable":     {err: errors.New("decode profile: bad json")},
		"client error":      {err: &domain.BackendError{StatusCode: 403}},
	}

	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			lookup := &scriptedLookup{script: []lookupResult{result}}
			sleeper := &recordingSleeper{}

			role := newTestResolver(lookup, sleeper).Resolve(context.Background(), "user-1")

			if role != domain.FallbackRole {
				t.Fatalf("expected fallback %q, got %q", domain.FallbackRole, role)
			}
			if lookup.callCount() != 1 {
				t.Fatalf("expected no retries, got %d lookups", lookup.callCount())
			}
		})
	}
}

func TestRoleResolver_NormalisesStoredRole(t *testing.T) {
	cases := map[string]domain.Role{
		"Admin":     domain.RoleAdmin,
		" trainer ": domain.RoleTrainer,
		"USER":      domain.RoleUser,
	}

	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			lookup := &scriptedLookup{script: []lookupResult{{role: domain.Role(raw)}}}

			role := newTestResolver(lookup, &recordingSleeper{}).Resolve(context.Background(), "user-1")

			if role != want {
				t.Fatalf("expected %q, got %q", want, role)
			}
			if !role.Valid() {
				t.Fatalf("resolved role %q is outside the closed set", role)
			}
			if got := domain.LandingRoute(domain.SessionState{Identity: &domain.Identity{ID: "user-1"}, Role: role}); raw == "Admin" && got != domain.RouteAdminDashboard {
				t.Fatalf("expected admin route, got %q", got)
			}
		})
	}
}

func TestRoleResolver_CancelledDuringBackoff(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{{err: unavailable}}}
	sleeper := &recordingSleeper{err: context.Canceled}

	role := newTestResolver(lookup, sleeper).Resolve(context.Background(), "user-1")

	if role != domain.RoleUser {
		t.Fatalf("expected fallback user, got %q", role)
	}
	if lookup.callCount() != 1 {
		t.Fatalf("expected retry loop to stop after cancellation, got %d lookups", lookup.callCount())
	}
}

func TestRoleResolver_EmptyIdentitySkipsLookup(t *testing.T) {
	lookup := &scriptedLookup{script: []lookupResult{{role: domain.RoleAdmin}}}

	role := newTestResolver(lookup, &recordingSleeper{}).Resolve(context.Background(), "")

	if role != domain.RoleUser {
		t.Fatalf("expected fallback user, got %q", role)
	}
	if lookup.callCount() != 0 {
		t.Fatalf("expected no lookup, got %d", lookup.callCount())
	}
}

func TestSleepCtx_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected nil after short sleep, got %v", err)
	}
}
