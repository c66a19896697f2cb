package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

// Resolver derives a role for an identity; see RoleResolver.
type Resolver interface {
	Resolve(ctx context.Context, identityID string) domain.Role
}

// SessionManager owns the client-side SessionState. It bootstraps the
// session once on Start, re-derives identity and role on every auth event
// and publishes the result to subscribers.
//
// Each run (bootstrap or event) takes a sequence number when it begins.
// Only the run holding the latest sequence may write, so a slow run that
// started earlier can never overwrite a newer one. After Stop nothing is
// written or published, although in-flight lookups still run to the end.
type SessionManager struct {
	source   ports.SessionSource
	resolver Resolver
	log      zerolog.Logger

	// publishMu serialises commit+notify so subscribers see writes in order.
	publishMu sync.Mutex

	mu        sync.Mutex
	state     domain.SessionState
	seq       uint64
	mounted   bool
	sub       ports.Subscription
	listeners map[int]func(domain.SessionState)
	nextID    int

	inflight sync.WaitGroup
}

func NewSessionManager(source ports.SessionSource, resolver Resolver, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		source:    source,
		resolver:  resolver,
		log:       log,
		listeners: make(map[int]func(domain.SessionState)),
	}
}

// Start subscribes to auth events and bootstraps the current session. It
// blocks until the bootstrap has settled; failures are absorbed into the
// signed-out state. ctx also bounds the lookups triggered by later events.
func (m *SessionManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.mounted = true
	subscribe := m.sub == nil
	m.mu.Unlock()

	if subscribe {
		sub := m.source.OnAuthStateChange(func(event domain.AuthEvent) {
			m.onEvent(ctx, event)
		})
		m.mu.Lock()
		m.sub = sub
		m.mu.Unlock()
	}

	m.bootstrap(ctx)
}

// Stop releases the auth subscription. Writes from runs still in flight
// are dropped.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	m.mounted = false
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Wait blocks until every event handler started so far has returned.
func (m *SessionManager) Wait() {
	m.inflight.Wait()
}

// State returns a copy of the current state.
func (m *SessionManager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Subscribe registers fn to receive every published state. The returned
// func removes it. fn runs while the publish lock is held and must not
// sign in or out synchronously.
func (m *SessionManager) Subscribe(fn func(domain.SessionState)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *SessionManager) bootstrap(ctx context.Context) {
	seq := m.begin()

	session, err := m.source.GetSession(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("session bootstrap failed, continuing signed out")
		m.commit(seq, domain.SessionState{Error: err.Error()})
		return
	}
	if session == nil {
		m.commit(seq, domain.SessionState{})
		return
	}
	m.resolveAndCommit(ctx, seq, session.Identity)
}

// onEvent runs on the backend's notification path. The sequence number is
// taken here so that arrival order decides which run wins.
func (m *SessionManager) onEvent(ctx context.Context, event domain.AuthEvent) {
	if event.SignedOut() {
		seq := m.nextSeq()
		m.log.Debug().Str("event", string(event.Kind)).Msg("signed out")
		m.commit(seq, domain.SessionState{})
		return
	}

	seq := m.begin()
	identity := event.Session.Identity
	m.log.Debug().Str("event", string(event.Kind)).Str("user_id", identity.ID).Msg("auth event, resolving role")

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.resolveAndCommit(ctx, seq, identity)
	}()
}

func (m *SessionManager) resolveAndCommit(ctx context.Context, seq uint64, identity domain.Identity) {
	role := m.resolver.Resolve(ctx, identity.ID)
	m.commit(seq, domain.SessionState{Identity: &identity, Role: role})
}

func (m *SessionManager) nextSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// begin takes a sequence number and flags the state as loading. Identity
// and role stay as they were until the run commits.
func (m *SessionManager) begin() uint64 {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	m.seq++
	seq := m.seq
	if !m.mounted || m.state.Loading {
		m.mu.Unlock()
		return seq
	}
	m.state.Loading = true
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
	return seq
}

// commit writes next as the settled state if seq is still the latest run
// and the manager is mounted.
func (m *SessionManager) commit(seq uint64, next domain.SessionState) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		m.log.Debug().Uint64("seq", seq).Msg("dropping state write after stop")
		return
	}
	if seq != m.seq {
		m.mu.Unlock()
		m.log.Debug().Uint64("seq", seq).Msg("dropping stale state write")
		return
	}
	if next.Identity == nil {
		next.Role = domain.RoleNone
	}
	next.Loading = false
	m.state = next
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
}

func (m *SessionManager) snapshotLocked() (domain.SessionState, []func(domain.SessionState)) {
	listeners := make([]func(domain.SessionState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return m.state.Clone(), listeners
}

func notify(listeners []func(domain.SessionState), state domain.SessionState) {
	for _, fn := range listeners {
		fn(state.Clone())
	}
}
