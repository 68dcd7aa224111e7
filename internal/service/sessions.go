// Package service provides the use cases the HTTP layer drives: browser
// sessions, the dashboard overview and public booking intake.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/cache"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// errNoSession marks a session id with nothing to restore.
var errNoSession = errors.New("no session")

// SessionManager owns one Auth Context per signed-in browser session id.
// Visitors without a live session get a request-scoped anonymous context, so
// only sign-in and sign-up create cached state. Contexts live for ttl after
// they are established; with a directory configured the underlying session
// survives eviction and process restarts.
type SessionManager struct {
	backend  port.AuthBackend
	rows     port.RowStore
	dir      string
	contexts *cache.InMemory[*auth.Context]
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSessionManager creates a manager. dir may be empty to keep sessions in memory only.
func NewSessionManager(backend port.AuthBackend, rows port.RowStore, ttl time.Duration, dir string, metrics *observability.Metrics, logger *zap.Logger) *SessionManager {
	m := &SessionManager{
		backend: backend,
		rows:    rows,
		dir:     dir,
		metrics: metrics,
		logger:  logger,
	}
	m.contexts = cache.New[*auth.Context](ttl, cache.WithOnEvict(func(sid string, ac *auth.Context) {
		ac.Close()
		m.metrics.SetActiveSessions(m.contexts.Len())
		m.logger.Debug("session: context evicted", zap.String("sid", sid))
	}))
	return m
}

// NewID returns a fresh browser session id.
func (m *SessionManager) NewID() string {
	return uuid.NewString()
}

// ValidID reports whether sid has the shape NewID produces.
func (m *SessionManager) ValidID(sid string) bool {
	_, err := uuid.Parse(sid)
	return err == nil
}

// Lookup returns the Auth Context of a live browser session and refreshes its
// tokens when they are about to expire. Unknown ids, and sessions that turn
// out to be signed out, report false.
func (m *SessionManager) Lookup(ctx context.Context, sid string) (*auth.Context, bool, error) {
	if !m.ValidID(sid) {
		return nil, false, nil
	}

	ctx, span := tracer.Start(ctx, "SessionManager.Lookup")
	defer span.End()

	ac, hit := m.contexts.Get(sid)
	span.SetAttributes(attribute.Bool("session.cached", hit))
	if !hit {
		if m.dir == "" {
			return nil, false, nil
		}
		var err error
		ac, _, err = m.contexts.GetOrLoad(sid, nil, func() (*auth.Context, error) {
			return m.restore(ctx, sid)
		})
		if errors.Is(err, errNoSession) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		m.metrics.SetActiveSessions(m.contexts.Len())
	}

	ac.EnsureFresh(ctx)
	if ac.CurrentIdentity() == nil {
		m.End(sid)
		return nil, false, nil
	}
	return ac, true, nil
}

// restore rebuilds the context of sid from its persisted session.
func (m *SessionManager) restore(ctx context.Context, sid string) (*auth.Context, error) {
	ac := auth.NewContext(m.backend, m.rows, session.NewStore(m.persister(sid), m.logger), m.metrics, m.logger)
	if err := ac.Init(ctx); err != nil {
		return nil, err
	}
	if ac.CurrentIdentity() == nil {
		ac.Close()
		return nil, errNoSession
	}
	m.logger.Debug("session: restored from disk", zap.String("sid", sid))
	return ac, nil
}

// Anonymous returns an initialized, unauthenticated request-scoped context.
// It is not cached; the caller closes it.
func (m *SessionManager) Anonymous(ctx context.Context) (*auth.Context, error) {
	ac := auth.NewContext(m.backend, m.rows, session.NewStore(&session.MemoryPersister{}, m.logger), m.metrics, m.logger)
	if err := ac.Init(ctx); err != nil {
		return nil, err
	}
	return ac, nil
}

// Establish stores sess under a new session id and returns the id with its
// context. The previous session id, if any, is ended so it cannot be reused.
func (m *SessionManager) Establish(ctx context.Context, prev string, sess *domain.Session) (string, *auth.Context, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.Establish")
	defer span.End()

	if prev != "" {
		m.End(prev)
	}

	sid := m.NewID()
	p := m.persister(sid)
	if err := p.Save(sess); err != nil {
		return "", nil, fmt.Errorf("persist session: %w", err)
	}
	ac := auth.NewContext(m.backend, m.rows, session.NewStore(p, m.logger), m.metrics, m.logger)
	if err := ac.Init(ctx); err != nil {
		return "", nil, err
	}

	m.contexts.Set(sid, ac)
	m.metrics.SetActiveSessions(m.contexts.Len())
	m.logger.Debug("session: established", zap.String("user_id", sess.User.ID))
	return sid, ac, nil
}

// End drops the context of sid and its persisted session.
func (m *SessionManager) End(sid string) {
	if !m.ValidID(sid) {
		return
	}
	m.contexts.Delete(sid)
	if m.dir != "" {
		if err := m.persister(sid).Clear(); err != nil {
			m.logger.Warn("session: failed to clear persisted session", zap.Error(err))
		}
	}
}

// Bearer returns a request-scoped Auth Context for a verified access token.
// It is not cached and has no refresh token.
func (m *SessionManager) Bearer(ctx context.Context, token string, claims *auth.Claims) (*auth.Context, error) {
	sess := &domain.Session{
		AccessToken: token,
		TokenType:   "bearer",
		User:        claims.Identity(),
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}

	store := session.NewStore(&session.MemoryPersister{}, m.logger)
	if err := store.Set(ctx, session.EventInitialSession, sess); err != nil {
		return nil, err
	}
	ac := auth.NewContext(m.backend, m.rows, store, m.metrics, m.logger)
	if err := ac.Init(ctx); err != nil {
		return nil, err
	}
	return ac, nil
}

// Active returns the number of live contexts.
func (m *SessionManager) Active() int {
	return m.contexts.Len()
}

// Close stops the eviction sweeper.
func (m *SessionManager) Close() {
	m.contexts.Close()
}

func (m *SessionManager) persister(sid string) session.Persister {
	if m.dir == "" {
		return &session.MemoryPersister{}
	}
	return session.NewFilePersister(m.dir, sid)
}
