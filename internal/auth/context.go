// Package auth holds the per-browser Auth Context: the session, identity and
// profile a visitor is acting as, kept in sync with the Session Store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("auth")

const profilesTable = "profiles"

// refreshSkew is how close to expiry a session is refreshed ahead of use.
const refreshSkew = time.Minute

// State is the coarse authentication state exposed to pages.
type State string

const (
	StateInitializing    State = "initializing"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Snapshot is a consistent read of the context.
type Snapshot struct {
	State    State            `json:"state"`
	Loading  bool             `json:"loading"`
	Identity *domain.Identity `json:"user"`
	Profile  *domain.Profile  `json:"profile"`
	Session  *domain.Session  `json:"-"`
}

// Context is the Auth Context of one browser session.
// Init must be called before use and Close when the browser session ends.
type Context struct {
	backend port.AuthBackend
	rows    port.RowStore
	store   *session.Store
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// refreshMu serializes token rotation; a refresh token is single use.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	session     *domain.Session
	profile     *domain.Profile
	loading     bool
	initialized bool
	sub         *session.Subscription
}

// NewContext creates an Auth Context in the initializing state.
func NewContext(backend port.AuthBackend, rows port.RowStore, store *session.Store, metrics *observability.Metrics, logger *zap.Logger) *Context {
	return &Context{
		backend: backend,
		rows:    rows,
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		loading: true,
	}
}

// Init restores the persisted session, loads its profile and subscribes to
// session changes. Calling it again is a no-op.
func (c *Context) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "AuthContext.Init")
	defer span.End()

	sess, err := c.store.Load()
	if err != nil {
		c.logger.Warn("auth: failed to load persisted session", zap.Error(err))
		sess = nil
	}

	if sess != nil && sess.Expired(c.now()) {
		sess = c.restoreExpired(ctx, sess)
	}

	c.apply(ctx, sess)
	span.SetAttributes(attribute.Bool("auth.restored", sess != nil))

	sub := c.store.Subscribe(c.onChange)
	c.mu.Lock()
	c.sub = sub
	c.loading = false
	c.mu.Unlock()

	return nil
}

// restoreExpired refreshes an expired persisted session once, or clears it.
func (c *Context) restoreExpired(ctx context.Context, sess *domain.Session) *domain.Session {
	if sess.RefreshToken != "" {
		refreshed, err := c.backend.RefreshSession(ctx, sess.RefreshToken)
		if err == nil {
			_ = c.store.Set(ctx, session.EventTokenRefreshed, refreshed)
			return refreshed
		}
		c.logger.Info("auth: persisted session could not be refreshed",
			zap.String("user_id", sess.User.ID),
			zap.Error(err),
		)
	}
	_ = c.store.Clear(ctx)
	return nil
}

// Close stops listening to session changes. Safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (c *Context) onChange(ctx context.Context, ch session.Change) {
	c.apply(ctx, ch.Session)
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
	c.metrics.IncrAuthEvent(string(ch.Event))
	c.logger.Debug("auth: session change", zap.String("event", string(ch.Event)))
}

// publish records a session change in the store. Subscribed contexts pick it
// up through onChange; a context that has not been initialized applies it directly.
func (c *Context) publish(ctx context.Context, ev session.Event, sess *domain.Session) {
	_ = c.store.Set(ctx, ev, sess)

	c.mu.RLock()
	subscribed := c.sub != nil
	c.mu.RUnlock()
	if !subscribed {
		c.apply(ctx, sess)
	}
}

// apply makes sess current and loads the matching profile.
func (c *Context) apply(ctx context.Context, sess *domain.Session) {
	var profile *domain.Profile
	if sess != nil {
		profile = c.fetchProfile(ctx, sess)
	}

	c.mu.Lock()
	c.session = sess
	c.profile = profile
	c.mu.Unlock()
}

// fetchProfile reads the caller's profile row. Failures are logged and yield nil.
func (c *Context) fetchProfile(ctx context.Context, sess *domain.Session) *domain.Profile {
	var rows []domain.Profile
	err := c.rows.Select(port.WithAccessToken(ctx, sess.AccessToken), profilesTable, port.Query{
		Columns: "*",
		Filters: []port.Filter{port.Eq("id", sess.User.ID)},
	}, &rows)
	if err != nil {
		c.logger.Error("auth: profile lookup failed", zap.String("user_id", sess.User.ID), zap.Error(err))
		return nil
	}
	if len(rows) != 1 {
		c.logger.Error("auth: profile lookup returned unexpected rows",
			zap.String("user_id", sess.User.ID),
			zap.Int("rows", len(rows)),
		)
		return nil
	}
	return &rows[0]
}

// SignIn authenticates with email and password. On failure the state is untouched.
func (c *Context) SignIn(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "AuthContext.SignIn")
	defer span.End()

	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		var invalid *domain.ErrInvalidCredentials
		if errors.As(err, &invalid) {
			c.logger.Info("auth: sign in rejected")
			return invalid
		}
		return fmt.Errorf("sign in: %w", err)
	}

	c.publish(ctx, session.EventSignedIn, sess)
	c.logger.Info("auth: signed in", zap.String("user_id", sess.User.ID))
	return nil
}

// SignUp creates an account and writes the display name to its profile.
// A failed profile write does not fail the sign-up.
func (c *Context) SignUp(ctx context.Context, email, password, name string) error {
	ctx, span := tracer.Start(ctx, "AuthContext.SignUp")
	defer span.End()

	res, err := c.backend.SignUp(ctx, email, password, map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}

	token := ""
	if res.Session != nil {
		token = res.Session.AccessToken
		c.publish(ctx, session.EventSignedIn, res.Session)
	}

	if res.User.ID == "" {
		return nil
	}
	profile, err := c.writeProfileName(ctx, token, res.User.ID, name)
	if err != nil {
		c.logger.Warn("auth: sign up profile name update failed",
			zap.String("user_id", res.User.ID),
			zap.Error(err),
		)
		c.metrics.IncrSignUpProfileFailure()
		return nil
	}

	c.mu.Lock()
	if c.session != nil && c.session.User.ID == profile.ID {
		c.profile = profile
	}
	c.mu.Unlock()

	c.logger.Info("auth: signed up",
		zap.String("user_id", res.User.ID),
		zap.Bool("confirmation_pending", res.Session == nil),
	)
	return nil
}

func (c *Context) writeProfileName(ctx context.Context, token, userID, name string) (*domain.Profile, error) {
	var rows []domain.Profile
	err := c.rows.Update(port.WithAccessToken(ctx, token), profilesTable,
		[]port.Filter{port.Eq("id", userID)},
		domain.ProfileUpdate{Name: &name},
		&rows,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return &rows[0], nil
}

// SignOut revokes the backend session and clears local state. Local state is
// cleared even when the backend call fails; that error is still returned.
func (c *Context) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "AuthContext.SignOut")
	defer span.End()

	var signOutErr error
	if sess := c.currentSession(); sess != nil {
		if err := c.backend.SignOut(ctx, sess.AccessToken); err != nil {
			c.logger.Warn("auth: backend sign out failed", zap.String("user_id", sess.User.ID), zap.Error(err))
			signOutErr = fmt.Errorf("sign out: %w", err)
		}
	}

	_ = c.store.Clear(ctx)

	c.mu.Lock()
	c.session = nil
	c.profile = nil
	c.mu.Unlock()
	return signOutErr
}

// Refresh rotates the session tokens.
func (c *Context) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx, c.currentSession())
}

func (c *Context) refresh(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.RefreshToken == "" {
		return &domain.ErrUnauthenticated{Operation: "refresh session"}
	}

	refreshed, err := c.backend.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	c.publish(ctx, session.EventTokenRefreshed, refreshed)
	return nil
}

// EnsureFresh refreshes the session when it is about to expire. A failed
// refresh of an already expired session signs the context out, unless another
// caller replaced the session in the meantime.
func (c *Context) EnsureFresh(ctx context.Context) {
	if !c.needsRefresh(c.currentSession()) {
		return
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Re-check: a concurrent caller may have rotated the tokens already.
	sess := c.currentSession()
	if !c.needsRefresh(sess) {
		return
	}
	err := c.refresh(ctx, sess)
	if err == nil {
		return
	}
	c.logger.Warn("auth: token refresh failed", zap.String("user_id", sess.User.ID), zap.Error(err))
	if !sess.Expired(c.now()) {
		return
	}

	c.mu.Lock()
	current := c.session == sess
	if current {
		c.session = nil
		c.profile = nil
	}
	c.mu.Unlock()
	if current {
		_ = c.store.Clear(ctx)
	}
}

func (c *Context) needsRefresh(sess *domain.Session) bool {
	return sess != nil && !sess.ExpiresAt.IsZero() && !c.now().Add(refreshSkew).Before(sess.ExpiresAt)
}

// UpdateProfile changes the caller's display name.
func (c *Context) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "AuthContext.UpdateProfile")
	defer span.End()

	sess := c.currentSession()
	if sess == nil {
		return nil, &domain.ErrUnauthenticated{Operation: "update profile"}
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.Name == nil {
		return c.Profile(), nil
	}

	profile, err := c.writeProfileName(ctx, sess.AccessToken, sess.User.ID, *upd.Name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()
	c.publish(ctx, session.EventUserUpdated, sess)
	return profile, nil
}

// Snapshot returns the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{Loading: c.loading, Session: c.session, Profile: c.profile}
	switch {
	case c.loading:
		snap.State = StateInitializing
	case c.session != nil:
		snap.State = StateAuthenticated
	default:
		snap.State = StateUnauthenticated
	}
	if c.session != nil {
		ident := c.session.User
		snap.Identity = &ident
	}
	return snap
}

// Loading reports whether Init has not completed yet.
func (c *Context) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// CurrentIdentity returns the signed-in identity or nil.
func (c *Context) CurrentIdentity() *domain.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	ident := c.session.User
	return &ident
}

// AccessToken returns the current access token or "".
func (c *Context) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// Profile returns the loaded profile or nil.
func (c *Context) Profile() *domain.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Context) currentSession() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}
