package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/session"

	"go.uber.org/zap"
)

// failingProfiles rejects every profile write.
type failingProfiles struct {
	port.RowStore
}

func (f failingProfiles) Update(ctx context.Context, table string, filters []port.Filter, patch any, out any) error {
	if table == "profiles" {
		return &domain.ErrExternalService{Service: "supabase/update.profiles", Err: errors.New("boom")}
	}
	return f.RowStore.Update(ctx, table, filters, patch, out)
}

// countingBackend counts sign-in attempts.
type countingBackend struct {
	port.AuthBackend
	signIns int32
}

func (c *countingBackend) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	atomic.AddInt32(&c.signIns, 1)
	return c.AuthBackend.SignInWithPassword(ctx, email, password)
}

// slowRefreshBackend counts refreshes and widens the window in which two
// callers could present the same refresh token.
type slowRefreshBackend struct {
	port.AuthBackend
	refreshes int32
}

func (s *slowRefreshBackend) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	atomic.AddInt32(&s.refreshes, 1)
	time.Sleep(10 * time.Millisecond)
	return s.AuthBackend.RefreshSession(ctx, refreshToken)
}

func newBackend() *memstore.Store {
	return memstore.New(auth.NewSigner("secret", time.Hour), auth.NewVerifier("secret"), zap.NewNop())
}

func newContext(t *testing.T, backend port.AuthBackend, rows port.RowStore, store *session.Store) (*auth.Context, *observability.Metrics) {
	t.Helper()
	if store == nil {
		store = session.NewStore(nil, zap.NewNop())
	}
	metrics := observability.NewMetrics()
	c := auth.NewContext(backend, rows, store, metrics, zap.NewNop())
	t.Cleanup(c.Close)
	return c, metrics
}

func TestContext_LoadingUntilInit(t *testing.T) {
	mem := newBackend()
	c, _ := newContext(t, mem, mem, nil)

	snap := c.Snapshot()
	if !snap.Loading || snap.State != auth.StateInitializing {
		t.Fatalf("expected initializing, got %+v", snap)
	}

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap = c.Snapshot()
	if snap.Loading || snap.State != auth.StateUnauthenticated || snap.Identity != nil {
		t.Fatalf("expected unauthenticated, got %+v", snap)
	}
}

func TestContext_SignInLoadsProfile(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	if _, err := mem.SignUp(ctx, "ana@x.io", "secret123", map[string]any{"name": "Ana"}); err != nil {
		t.Fatal(err)
	}

	c, metrics := newContext(t, mem, mem, nil)
	_ = c.Init(ctx)

	if err := c.SignIn(ctx, "ana@x.io", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != auth.StateAuthenticated || snap.Identity == nil || snap.Identity.Email != "ana@x.io" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Profile == nil || snap.Profile.ID != snap.Identity.ID {
		t.Errorf("expected profile for identity, got %+v", snap.Profile)
	}
	if c.AccessToken() == "" {
		t.Error("expected access token")
	}
	if metrics.CacheSnapshot() == nil {
		t.Error("metrics must stay usable")
	}
}

func TestContext_WrongPasswordLeavesStateAndDoesNotRetry(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	_, _ = mem.SignUp(ctx, "ana@x.io", "secret123", nil)

	backend := &countingBackend{AuthBackend: mem}
	c, _ := newContext(t, backend, mem, nil)
	_ = c.Init(ctx)

	err := c.SignIn(ctx, "ana@x.io", "wrong-password")
	var invalid *domain.ErrInvalidCredentials
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err.Error() != "invalid email or password" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if c.CurrentIdentity() != nil {
		t.Error("identity must stay absent")
	}
	if n := atomic.LoadInt32(&backend.signIns); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestContext_SignUpWritesProfileName(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	c, _ := newContext(t, mem, mem, nil)
	_ = c.Init(ctx)

	if err := c.SignUp(ctx, "bea@x.io", "secret123", "Bea"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	profile := c.Profile()
	if profile == nil || profile.Name == nil || *profile.Name != "Bea" {
		t.Fatalf("expected profile name Bea, got %+v", profile)
	}
	if c.Snapshot().State != auth.StateAuthenticated {
		t.Error("expected the new session to become current")
	}
}

func TestContext_SignUpProfileFailureIsNotFatal(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	c, metrics := newContext(t, mem, failingProfiles{RowStore: mem}, nil)
	_ = c.Init(ctx)

	if err := c.SignUp(ctx, "bea@x.io", "secret123", "Bea"); err != nil {
		t.Fatalf("sign up must succeed, got %v", err)
	}
	if got := metrics.SignUpProfileFailures(); got != 1 {
		t.Errorf("expected failure counted once, got %v", got)
	}

	if _, err := mem.SignInWithPassword(ctx, "bea@x.io", "secret123"); err != nil {
		t.Errorf("identity must exist after partial failure: %v", err)
	}
	if p := c.Profile(); p != nil && p.Name != nil {
		t.Errorf("profile name must stay unset, got %q", *p.Name)
	}
}

func TestContext_SignOutClearsState(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	_, _ = mem.SignUp(ctx, "ana@x.io", "secret123", nil)

	c, _ := newContext(t, mem, mem, nil)
	_ = c.Init(ctx)
	_ = c.SignIn(ctx, "ana@x.io", "secret123")

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != auth.StateUnauthenticated || snap.Profile != nil || c.AccessToken() != "" {
		t.Fatalf("expected cleared state, got %+v", snap)
	}
}

func TestContext_InitRestoresAndRefreshesPersistedSession(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	res, _ := mem.SignUp(ctx, "ana@x.io", "secret123", nil)

	persister := &session.MemoryPersister{}
	expired := *res.Session
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := persister.Save(&expired); err != nil {
		t.Fatal(err)
	}

	store := session.NewStore(persister, zap.NewNop())
	c, _ := newContext(t, mem, mem, store)
	if err := c.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if id := c.CurrentIdentity(); id == nil || id.ID != res.User.ID {
		t.Fatalf("expected restored identity, got %+v", id)
	}
	if c.Snapshot().Session.RefreshToken == expired.RefreshToken {
		t.Error("expected rotated tokens")
	}
}

func TestContext_InitDropsUnrefreshableSession(t *testing.T) {
	mem := newBackend()
	persister := &session.MemoryPersister{}
	_ = persister.Save(&domain.Session{
		AccessToken:  "stale",
		RefreshToken: "unknown",
		ExpiresAt:    time.Now().Add(-time.Hour),
		User:         domain.Identity{ID: "u1"},
	})

	store := session.NewStore(persister, zap.NewNop())
	c, _ := newContext(t, mem, mem, store)
	_ = c.Init(context.Background())

	if c.CurrentIdentity() != nil {
		t.Error("expected no identity")
	}
	if sess, _ := persister.Load(); sess != nil {
		t.Error("expected persisted session to be cleared")
	}
}

func TestContext_FollowsStoreAndCloseUnsubscribes(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	res, _ := mem.SignUp(ctx, "ana@x.io", "secret123", nil)

	store := session.NewStore(nil, zap.NewNop())
	c, _ := newContext(t, mem, mem, store)
	_ = c.Init(ctx)
	if store.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", store.Subscribers())
	}

	_ = store.Set(ctx, session.EventSignedIn, res.Session)
	if c.CurrentIdentity() == nil {
		t.Fatal("expected identity from store event")
	}

	c.Close()
	c.Close()
	if store.Subscribers() != 0 {
		t.Errorf("expected no subscribers after Close, got %d", store.Subscribers())
	}

	_ = store.Clear(ctx)
	if c.CurrentIdentity() == nil {
		t.Error("closed context must not follow the store")
	}
}

func TestContext_UpdateProfile(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	c, _ := newContext(t, mem, mem, nil)
	_ = c.Init(ctx)

	name := "Ana"
	if _, err := c.UpdateProfile(ctx, domain.ProfileUpdate{Name: &name}); !errors.As(err, new(*domain.ErrUnauthenticated)) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	_ = c.SignUp(ctx, "ana@x.io", "secret123", "A")
	p, err := c.UpdateProfile(ctx, domain.ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Name == nil || *p.Name != "Ana" || c.Profile() == nil || *c.Profile().Name != "Ana" {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestContext_ConcurrentEnsureFreshRefreshesOnce(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	res, err := mem.SignUp(ctx, "ana@x.io", "secret123", nil)
	if err != nil {
		t.Fatal(err)
	}

	backend := &slowRefreshBackend{AuthBackend: mem}
	store := session.NewStore(nil, zap.NewNop())
	c, _ := newContext(t, backend, mem, store)
	_ = c.Init(ctx)

	expired := *res.Session
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_ = store.Set(ctx, session.EventSignedIn, &expired)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnsureFresh(ctx)
		}()
	}
	wg.Wait()

	if id := c.CurrentIdentity(); id == nil || id.ID != res.User.ID {
		t.Fatalf("parallel requests must keep the session signed in, got %+v", id)
	}
	if n := atomic.LoadInt32(&backend.refreshes); n != 1 {
		t.Errorf("expected a single refresh, got %d", n)
	}
	if sess := store.Current(); sess == nil || sess.RefreshToken == expired.RefreshToken {
		t.Error("expected rotated tokens in the store")
	}
}

func TestContext_EnsureFreshFailureSignsOut(t *testing.T) {
	mem := newBackend()
	ctx := context.Background()
	store := session.NewStore(nil, zap.NewNop())
	c, _ := newContext(t, mem, mem, store)
	_ = c.Init(ctx)

	_ = store.Set(ctx, session.EventSignedIn, &domain.Session{
		AccessToken:  "stale",
		RefreshToken: "unknown",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         domain.Identity{ID: "u1"},
	})
	c.EnsureFresh(ctx)

	if c.CurrentIdentity() != nil {
		t.Error("expected an unrefreshable expired session to be dropped")
	}
	if store.Current() != nil {
		t.Error("expected store to be cleared")
	}
}
