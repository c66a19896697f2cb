package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/service"
)

// fakeBackend serves the subset of the auth API the client uses.
type fakeBackend struct {
	mu            sync.Mutex
	roles         map[string]string
	profileStatus int
	refreshStatus int
	logoutStatus  int
	profileCalls  int
	logoutCalls   int
	expiresIn     int64
	issued        int
	refreshCalls  int
	profilePaths  []string
	// rotating makes refresh tokens single-use, like the Redis store.
	rotating    bool
	live        map[string]bool
	rejectDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{roles: map[string]string{"u1": "trainer"}, expiresIn: 3600, live: make(map[string]bool)}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		switch r.URL.Query().Get("grant_type") {
		case "password":
			var body passwordGrant
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Password != "secret123" {
				f.mu.Unlock()
				writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "invalid credentials"})
				return
			}
		case "refresh_token":
			f.refreshCalls++
			var body refreshGrant
			_ = json.NewDecoder(r.Body).Decode(&body)
			if f.refreshStatus != 0 {
				f.mu.Unlock()
				writeJSON(w, f.refreshStatus, errorPayload{Error: "refresh failed"})
				return
			}
			if f.rotating {
				if !f.live[body.RefreshToken] {
					delay := f.rejectDelay
					f.mu.Unlock()
					time.Sleep(delay)
					writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "invalid token"})
					return
				}
				delete(f.live, body.RefreshToken)
			}
		default:
			f.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "unsupported grant_type"})
			return
		}
		f.issued++
		tok := tokenPayload{
			AccessToken:  "access-" + strconv.Itoa(f.issued),
			RefreshToken: "refresh-" + strconv.Itoa(f.issued),
			ExpiresIn:    f.expiresIn,
			User:         domain.Identity{ID: "u1", Email: "coach@example.com"},
		}
		f.live[tok.RefreshToken] = true
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, tok)
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logoutCalls++
		if f.logoutStatus != 0 {
			writeJSON(w, f.logoutStatus, errorPayload{Error: "logout failed"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/rest/v1/profiles/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.profileCalls++
		f.profilePaths = append(f.profilePaths, r.URL.EscapedPath())
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "missing token"})
			return
		}
		if f.profileStatus != 0 {
			writeJSON(w, f.profileStatus, errorPayload{Error: "unavailable"})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/rest/v1/profiles/")
		role, ok := f.roles[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "profile not found"})
			return
		}
		writeJSON(w, http.StatusOK, profilePayload{ID: id, Role: role})
	})
	return mux
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.AuthEvent
}

func (r *eventRecorder) listen(e domain.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []domain.AuthEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuthEventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// fakeFeed lets tests push remote events to the followed user.
type fakeFeed struct {
	mu      sync.Mutex
	follows map[string]func(domain.RemoteAuthEvent)
	stopped []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{follows: make(map[string]func(domain.RemoteAuthEvent))}
}

func (f *fakeFeed) Follow(_ context.Context, userID string, fn func(domain.RemoteAuthEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows[userID] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.follows, userID)
		f.stopped = append(f.stopped, userID)
	}, nil
}

func (f *fakeFeed) push(event domain.RemoteAuthEvent) {
	f.mu.Lock()
	fn := f.follows[event.UserID]
	f.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

func newTestClient(t *testing.T, fb *fakeBackend, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", zerolog.Nop(), opts...)
}

func signIn(t *testing.T, c *Client) *domain.Session {
	t.Helper()
	session, err := c.SignInWithPassword(context.Background(), "coach@example.com", "secret123")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	return session
}

func TestClient_SignInEmitsSignedIn(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)

	session := signIn(t, c)

	if session.Identity.ID != "u1" || session.AccessToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != domain.EventSignedIn {
		t.Fatalf("expected SIGNED_IN, got %v", kinds)
	}

	got, err := c.GetSession(context.Background())
	if err != nil || got == nil || got.Identity.ID != "u1" {
		t.Fatalf("expected stored session, got %+v, %v", got, err)
	}
}

func TestClient_SignInRejected(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)

	_, err := c.SignInWithPassword(context.Background(), "coach@example.com", "wrong")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("expected no events, got %v", rec.kinds())
	}
	if s, _ := c.GetSession(context.Background()); s != nil {
		t.Fatalf("expected no session")
	}
}

func TestClient_QueryProfileRole(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	if _, err := c.QueryProfileRole(context.Background(), "u1"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession before sign-in, got %v", err)
	}

	signIn(t, c)

	role, err := c.QueryProfileRole(context.Background(), "u1")
	if err != nil || role != domain.RoleTrainer {
		t.Fatalf("expected trainer, got %q, %v", role, err)
	}

	if _, err := c.QueryProfileRole(context.Background(), "ghost"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}

	fb.set(func(f *fakeBackend) { f.profileStatus = http.StatusServiceUnavailable })
	_, err = c.QueryProfileRole(context.Background(), "u1")
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error for 503, got %v", err)
	}

	fb.set(func(f *fakeBackend) { f.profileStatus = http.StatusForbidden })
	_, err = c.QueryProfileRole(context.Background(), "u1")
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("expected non-transient error for 403, got %v", err)
	}
}

func TestClient_SignOutAlwaysClears(t *testing.T) {
	fb := newFakeBackend()
	fb.logoutStatus = http.StatusBadGateway
	c := newTestClient(t, fb)
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)
	signIn(t, c)

	err := c.SignOut(context.Background())
	if err == nil {
		t.Fatalf("expected remote logout error to be returned")
	}
	if s, _ := c.GetSession(context.Background()); s != nil {
		t.Fatalf("expected session to be cleared")
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != domain.EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", kinds)
	}

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("second sign-out should be a no-op, got %v", err)
	}
	if fb.logoutCalls != 1 {
		t.Fatalf("expected one remote logout, got %d", fb.logoutCalls)
	}
}

func TestClient_RefreshRotatesSession(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)
	first := signIn(t, c)

	second, err := c.RefreshSession(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != domain.EventTokenRefreshed {
		t.Fatalf("expected TOKEN_REFRESHED, got %v", kinds)
	}
}

func TestClient_RefreshRejectedSignsOut(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)
	signIn(t, c)

	fb.set(func(f *fakeBackend) { f.refreshStatus = http.StatusUnauthorized })
	if _, err := c.RefreshSession(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if s, _ := c.GetSession(context.Background()); s != nil {
		t.Fatalf("expected session to be dropped")
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != domain.EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", kinds)
	}
}

func TestClient_RefreshTransientKeepsSession(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)
	signIn(t, c)

	fb.set(func(f *fakeBackend) { f.refreshStatus = http.StatusServiceUnavailable })
	if _, err := c.RefreshSession(context.Background()); !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if c.current() == nil {
		t.Fatalf("expected session to survive a transient refresh failure")
	}
}

func TestClient_GetSessionRefreshesExpired(t *testing.T) {
	now := time.Now()
	fb := newFakeBackend()
	c := newTestClient(t, fb, WithClock(func() time.Time { return now }))
	first := signIn(t, c)

	now = now.Add(2 * time.Hour)
	got, err := c.GetSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.AccessToken == first.AccessToken {
		t.Fatalf("expected a refreshed session, got %+v", got)
	}

	now = now.Add(2 * time.Hour)
	fb.set(func(f *fakeBackend) { f.refreshStatus = http.StatusUnauthorized })
	got, err = c.GetSession(context.Background())
	if err != nil || got != nil {
		t.Fatalf("expected nil session after rejected refresh, got %+v, %v", got, err)
	}
}

func TestClient_UnsubscribeIsIdempotent(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	rec := &eventRecorder{}
	sub := c.OnAuthStateChange(rec.listen)
	sub.Unsubscribe()
	sub.Unsubscribe()

	signIn(t, c)
	if len(rec.kinds()) != 0 {
		t.Fatalf("expected no events after unsubscribe, got %v", rec.kinds())
	}
}

func TestClient_RemoteEvents(t *testing.T) {
	feed := newFakeFeed()
	c := newTestClient(t, newFakeBackend(), WithEventFeed(feed))
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)
	signIn(t, c)

	feed.push(domain.RemoteAuthEvent{UserID: "someone-else", Kind: domain.EventSignedOut})
	feed.push(domain.RemoteAuthEvent{UserID: "u1", Kind: domain.EventUserUpdated})
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != domain.EventUserUpdated {
		t.Fatalf("expected USER_UPDATED, got %v", kinds)
	}

	feed.push(domain.RemoteAuthEvent{UserID: "u1", Kind: domain.EventSignedOut})
	kinds = rec.kinds()
	if kinds[len(kinds)-1] != domain.EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", kinds)
	}
	if c.current() != nil {
		t.Fatalf("expected session to be cleared by remote sign-out")
	}
	if len(feed.stopped) != 1 || feed.stopped[0] != "u1" {
		t.Fatalf("expected feed for u1 to be stopped, got %v", feed.stopped)
	}
}

func TestTokenPayload_ExpiryFromClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u9",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	s := tokenPayload{AccessToken: access}.toSession(time.Now())
	if !s.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v from exp claim, got %v", exp, s.ExpiresAt)
	}
	if s.Identity.ID != "u9" {
		t.Fatalf("expected subject fallback u9, got %q", s.Identity.ID)
	}

	now := time.Now()
	s = tokenPayload{AccessToken: access, ExpiresIn: 60}.toSession(now)
	if !s.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected expires_in to win over the claim")
	}
}

// The session manager driven by a real client: role changes pushed by the
// backend are picked up, and remote sign-out clears the state.
func TestClient_WithSessionManager(t *testing.T) {
	fb := newFakeBackend()
	feed := newFakeFeed()
	c := newTestClient(t, fb, WithEventFeed(feed))
	signIn(t, c)

	resolver := service.NewRoleResolver(c, service.RoleResolverOptions{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, zerolog.Nop())
	m := service.NewSessionManager(c, resolver, zerolog.Nop())
	m.Start(context.Background())
	defer m.Stop()

	if got := m.State(); got.Identity == nil || got.Role != domain.RoleTrainer || got.Loading {
		t.Fatalf("expected signed-in trainer, got %+v", got)
	}

	fb.set(func(f *fakeBackend) { f.roles["u1"] = "admin" })
	feed.push(domain.RemoteAuthEvent{UserID: "u1", Kind: domain.EventUserUpdated})
	m.Wait()
	if got := m.State(); got.Role != domain.RoleAdmin {
		t.Fatalf("expected admin after role change, got %q", got.Role)
	}

	feed.push(domain.RemoteAuthEvent{UserID: "u1", Kind: domain.EventSignedOut})
	m.Wait()
	if got := m.State(); got.Identity != nil || got.Role != domain.RoleNone {
		t.Fatalf("expected signed-out state, got %+v", got)
	}
	if route := domain.LandingRoute(m.State()); route != domain.RouteLogin {
		t.Fatalf("expected login route, got %q", route)
	}
}

func TestClient_ConcurrentRefreshKeepsSession(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	fb := newFakeBackend()
	fb.rotating = true
	fb.rejectDelay = 50 * time.Millisecond
	c := newTestClient(t, fb, WithClock(clock))
	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)
	signIn(t, c)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	var wg sync.WaitGroup
	results := make([]*domain.Session, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetSession(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil || results[i] == nil {
			t.Fatalf("call %d: expected a session, got %+v, %v", i, results[i], errs[i])
		}
	}
	if c.current() == nil {
		t.Fatalf("concurrent refresh signed the user out")
	}
	for _, k := range rec.kinds() {
		if k == domain.EventSignedOut {
			t.Fatalf("unexpected SIGNED_OUT in %v", rec.kinds())
		}
	}
}

func TestClient_StaleRefreshRejectionKeepsNewerSession(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	first := signIn(t, c)
	second := signIn(t, c)

	if c.clearSessionIf(first.RefreshToken) {
		t.Fatalf("a rejection for a rotated token must not clear the session")
	}
	if got := c.current(); got == nil || got.RefreshToken != second.RefreshToken {
		t.Fatalf("expected newer session to survive, got %+v", got)
	}
	if !c.clearSessionIf(second.RefreshToken) {
		t.Fatalf("expected current token to clear the session")
	}
}

func TestClient_QueryProfileRoleEscapesID(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)
	signIn(t, c)

	_, _ = c.QueryProfileRole(context.Background(), "a/b?c")

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.profilePaths) != 1 || fb.profilePaths[0] != "/rest/v1/profiles/a%2Fb%3Fc" {
		t.Fatalf("expected escaped id in path, got %v", fb.profilePaths)
	}
}

func TestClient_QueryProfileRoleRefreshesExpiredToken(t *testing.T) {
	now := time.Now()
	fb := newFakeBackend()
	c := newTestClient(t, fb, WithClock(func() time.Time { return now }))
	first := signIn(t, c)

	now = now.Add(2 * time.Hour)
	role, err := c.QueryProfileRole(context.Background(), "u1")
	if err != nil || role != domain.RoleTrainer {
		t.Fatalf("expected trainer, got %q, %v", role, err)
	}
	fb.mu.Lock()
	refreshes := fb.refreshCalls
	fb.mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected one refresh before the lookup, got %d", refreshes)
	}
	if got := c.current(); got == nil || got.AccessToken == first.AccessToken {
		t.Fatalf("expected the lookup to use a refreshed token, got %+v", got)
	}
}
