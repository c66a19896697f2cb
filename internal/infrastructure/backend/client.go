// Package backend is the client side of the auth backend: it keeps the
// current session in memory, talks to the auth and profile endpoints over
// HTTP and notifies listeners about auth-state changes.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

// EventFeed delivers backend-published auth events for one user.
type EventFeed interface {
	Follow(ctx context.Context, userID string, fn func(domain.RemoteAuthEvent)) (stop func(), err error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEventFeed makes the client follow remote events (logout elsewhere,
// role changes) for the signed-in user.
func WithEventFeed(feed EventFeed) Option {
	return func(c *Client) { c.feed = feed }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client implements ports.AuthBackend against the fitcoach auth API.
type Client struct {
	baseURL string
	http    *http.Client
	feed    EventFeed
	log     zerolog.Logger
	now     func() time.Time

	refreshes singleflight.Group

	mu        sync.Mutex
	session   *domain.Session
	stopFeed  func()
	listeners map[int]ports.AuthStateListener
	nextID    int
}

var _ ports.AuthBackend = (*Client)(nil)

func NewClient(baseURL string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		log:       log,
		now:       time.Now,
		listeners: make(map[int]ports.AuthStateListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession returns the current session, refreshing it first when the
// access token has expired. It returns nil when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	session := c.current()
	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now()) {
		return session, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		if domain.IsTransient(err) {
			return nil, err
		}
		// A concurrent refresh may have rotated the token under us.
		if s := c.current(); s != nil && !s.Expired(c.now()) {
			return s, nil
		}
		return nil, nil
	}
	return refreshed, nil
}

// OnAuthStateChange registers listener for every auth-state change.
func (c *Client) OnAuthStateChange(listener ports.AuthStateListener) ports.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	return &subscription{client: c, id: id}
}

// QueryProfileRole reads the role stored on the profile of identityID. An
// expired access token is refreshed before the lookup.
func (c *Client) QueryProfileRole(ctx context.Context, identityID string) (domain.Role, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return domain.RoleNone, err
	}
	if session == nil {
		return domain.RoleNone, domain.ErrNoSession
	}

	var profile profilePayload
	err = c.do(ctx, http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(identityID), session.AccessToken, nil, &profile)
	if err != nil {
		var be *domain.BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return domain.RoleNone, domain.ErrProfileNotFound
		}
		return domain.RoleNone, err
	}
	return domain.Role(profile.Role), nil
}

// SignInWithPassword opens a session and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var tok tokenPayload
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", passwordGrant{Email: email, Password: password}, &tok)
	if err != nil {
		var be *domain.BackendError
		if errors.As(err, &be) && (be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusBadRequest) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session := tok.toSession(c.now())
	c.setSession(session, "")
	c.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: session})
	return session, nil
}

// RefreshSession rotates the refresh token and emits TOKEN_REFRESHED. When
// the backend rejects the token the session is dropped and SIGNED_OUT is
// emitted instead. Concurrent calls share one round trip, since the backend
// accepts each refresh token only once.
func (c *Client) RefreshSession(ctx context.Context) (*domain.Session, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	s := *v.(*domain.Session)
	return &s, nil
}

func (c *Client) refresh(ctx context.Context) (*domain.Session, error) {
	current := c.current()
	if current == nil || current.RefreshToken == "" {
		return nil, domain.ErrNoSession
	}
	sent := current.RefreshToken

	var tok tokenPayload
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", refreshGrant{RefreshToken: sent}, &tok)
	if err != nil {
		if !domain.IsTransient(err) {
			c.log.Warn().Err(err).Str("user_id", current.Identity.ID).Msg("refresh rejected, signing out")
			if c.clearSessionIf(sent) {
				c.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
			}
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	session := tok.toSession(c.now())
	if !c.setSession(session, sent) {
		// Signed out or replaced while the request was in flight.
		return nil, domain.ErrNoSession
	}
	c.emit(domain.AuthEvent{Kind: domain.EventTokenRefreshed, Session: session})
	return session, nil
}

// SignOut ends the session on the backend and locally. The local session is
// dropped and SIGNED_OUT emitted even when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	current := c.current()
	if current == nil {
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", current.AccessToken, logoutBody{RefreshToken: current.RefreshToken}, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", current.Identity.ID).Msg("remote logout failed")
	}

	if c.clearSession() {
		c.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	}
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// StartAutoRefresh refreshes the session in the background whenever it is
// within margin of expiring. It returns when ctx is done.
func (c *Client) StartAutoRefresh(ctx context.Context, every, margin time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session := c.current()
			if session == nil || session.ExpiresAt.IsZero() {
				continue
			}
			if session.ExpiresAt.Sub(c.now()) > margin {
				continue
			}
			if _, err := c.RefreshSession(ctx); err != nil {
				c.log.Warn().Err(err).Msg("background refresh failed")
			}
		}
	}
}

func (c *Client) current() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// setSession stores session and, when the user changed, moves the remote
// event feed over to the new user. With a non-empty replaces, the store only
// happens while the held session still carries that refresh token.
func (c *Client) setSession(session *domain.Session, replaces string) bool {
	c.mu.Lock()
	prev := c.session
	if replaces != "" && (prev == nil || prev.RefreshToken != replaces) {
		c.mu.Unlock()
		return false
	}
	s := *session
	c.session = &s
	sameUser := prev != nil && prev.Identity.ID == session.Identity.ID && c.stopFeed != nil
	var stop func()
	if !sameUser {
		stop = c.stopFeed
		c.stopFeed = nil
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if !sameUser {
		c.follow(session.Identity.ID)
	}
	return true
}

// clearSession drops the session and reports whether there was one.
func (c *Client) clearSession() bool {
	return c.clearSessionIf("")
}

// clearSessionIf drops the session only while it still carries refreshToken;
// an empty refreshToken matches any session.
func (c *Client) clearSessionIf(refreshToken string) bool {
	c.mu.Lock()
	if c.session != nil && refreshToken != "" && c.session.RefreshToken != refreshToken {
		c.mu.Unlock()
		return false
	}
	had := c.session != nil
	c.session = nil
	stop := c.stopFeed
	c.stopFeed = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	return had
}

func (c *Client) follow(userID string) {
	if c.feed == nil {
		return
	}
	stop, err := c.feed.Follow(context.Background(), userID, c.onRemoteEvent)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("remote auth events unavailable")
		return
	}

	c.mu.Lock()
	if c.session == nil || c.session.Identity.ID != userID || c.stopFeed != nil {
		c.mu.Unlock()
		stop()
		return
	}
	c.stopFeed = stop
	c.mu.Unlock()
}

func (c *Client) onRemoteEvent(event domain.RemoteAuthEvent) {
	current := c.current()
	if current == nil || current.Identity.ID != event.UserID {
		return
	}

	switch event.Kind {
	case domain.EventSignedOut:
		c.log.Info().Str("user_id", event.UserID).Msg("signed out remotely")
		if c.clearSession() {
			c.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
		}
	case domain.EventUserUpdated:
		c.emit(domain.AuthEvent{Kind: domain.EventUserUpdated, Session: current})
	default:
		c.log.Debug().Str("kind", string(event.Kind)).Msg("ignoring remote auth event")
	}
}

func (c *Client) emit(event domain.AuthEvent) {
	c.mu.Lock()
	listeners := make([]ports.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
}

type subscription struct {
	client *Client
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.listeners, s.id)
		s.client.mu.Unlock()
	})
}
