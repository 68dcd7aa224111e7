package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/session"

	"go.uber.org/zap"
)

func testSession(id string) *domain.Session {
	return &domain.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		User:         domain.Identity{ID: id, Email: id + "@x.com", Name: id},
	}
}

func TestStore_SetNotifiesInOrder(t *testing.T) {
	s := session.NewStore(nil, zap.NewNop())

	var got []string
	s.Subscribe(func(_ context.Context, c session.Change) { got = append(got, "a:"+string(c.Event)) })
	s.Subscribe(func(_ context.Context, c session.Change) { got = append(got, "b:"+string(c.Event)) })

	if err := s.Set(context.Background(), session.EventSignedIn, testSession("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 || got[0] != "a:SIGNED_IN" || got[1] != "b:SIGNED_IN" {
		t.Fatalf("unexpected notifications: %v", got)
	}
	if cur := s.Current(); cur == nil || cur.User.ID != "u1" {
		t.Fatalf("expected current session for u1, got %+v", cur)
	}
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := session.NewStore(nil, zap.NewNop())

	calls := 0
	sub := s.Subscribe(func(context.Context, session.Change) { calls++ })
	if s.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", s.Subscribers())
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	_ = s.Set(context.Background(), session.EventSignedIn, testSession("u1"))
	if calls != 0 {
		t.Errorf("expected no calls after unsubscribe, got %d", calls)
	}
	if s.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", s.Subscribers())
	}
}

func TestStore_ClearSignsOut(t *testing.T) {
	p := &session.MemoryPersister{}
	s := session.NewStore(p, zap.NewNop())
	_ = s.Set(context.Background(), session.EventSignedIn, testSession("u1"))

	var last session.Change
	s.Subscribe(func(_ context.Context, c session.Change) { last = c })

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last.Event != session.EventSignedOut || last.Session != nil {
		t.Errorf("unexpected change: %+v", last)
	}
	if s.Current() != nil {
		t.Error("expected no current session")
	}
	if persisted, _ := p.Load(); persisted != nil {
		t.Error("expected persisted session to be cleared")
	}
}

func TestStore_CurrentIsACopy(t *testing.T) {
	s := session.NewStore(nil, zap.NewNop())
	_ = s.Set(context.Background(), session.EventSignedIn, testSession("u1"))

	cur := s.Current()
	cur.AccessToken = "tampered"

	if s.Current().AccessToken != "access-u1" {
		t.Error("mutating the returned session must not change the store")
	}
}

func TestFilePersister_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := session.NewFilePersister(dir, "sid-1")

	if got, err := p.Load(); err != nil || got != nil {
		t.Fatalf("expected empty load, got %+v, %v", got, err)
	}

	want := testSession("u1")
	if err := p.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "sid-1.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}

	got, err := p.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.User.ID != "u1" || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := p.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := p.Clear(); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
}

func TestStore_LoadRestoresPersistedSession(t *testing.T) {
	p := &session.MemoryPersister{}
	_ = p.Save(testSession("u9"))

	s := session.NewStore(p, zap.NewNop())
	if s.Current() != nil {
		t.Fatal("expected nothing before Load")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.User.ID != "u9" || s.Current().User.ID != "u9" {
		t.Errorf("expected u9 session, got %+v", got)
	}
}
