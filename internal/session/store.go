// Package session holds the current backend session for one user agent and
// notifies subscribers whenever it changes.
package session

import (
	"context"
	"sync"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// Event names a session change, mirroring the backend SDK's auth events.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Change is delivered to listeners. Session is nil after sign-out.
type Change struct {
	Event   Event
	Session *domain.Session
}

// Listener receives session changes synchronously, in subscription order.
type Listener func(ctx context.Context, c Change)

type subscriber struct {
	id uint64
	fn Listener
}

// Store is the single source of truth for the current session.
type Store struct {
	mu        sync.Mutex
	current   *domain.Session
	persister Persister
	subs      []subscriber
	nextID    uint64
	logger    *zap.Logger
}

// NewStore creates a store backed by p. A nil persister keeps sessions in memory only.
func NewStore(p Persister, logger *zap.Logger) *Store {
	if p == nil {
		p = &MemoryPersister{}
	}
	return &Store{persister: p, logger: logger}
}

// Load reads the persisted session into memory and returns a copy of it.
// It does not notify subscribers; the caller decides which event applies.
func (s *Store) Load() (*domain.Session, error) {
	sess, err := s.persister.Load()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = clone(sess)
	s.mu.Unlock()
	return clone(sess), nil
}

// Current returns a copy of the current session, or nil.
func (s *Store) Current() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// Set replaces the current session, persists it and notifies subscribers.
// A persistence failure is returned after subscribers have been notified:
// the in-memory session is authoritative for this process.
func (s *Store) Set(ctx context.Context, ev Event, sess *domain.Session) error {
	var persistErr error
	if sess == nil {
		persistErr = s.persister.Clear()
	} else {
		persistErr = s.persister.Save(sess)
	}
	if persistErr != nil {
		s.logger.Warn("session: persist failed",
			zap.String("event", string(ev)),
			zap.Error(persistErr),
		)
	}

	s.mu.Lock()
	s.current = clone(sess)
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ctx, Change{Event: ev, Session: clone(sess)})
	}
	return persistErr
}

// Clear drops the session and notifies subscribers with EventSignedOut.
func (s *Store) Clear(ctx context.Context) error {
	return s.Set(ctx, EventSignedOut, nil)
}

// Subscribe registers l until the returned subscription is cancelled.
func (s *Store) Subscribe(l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs = append(s.subs, subscriber{id: s.nextID, fn: l})
	return &Subscription{store: s, id: s.nextID}
}

// Subscribers reports how many listeners are registered.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Unsubscribe stops delivery. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() { sub.store.remove(sub.id) })
}

func clone(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
