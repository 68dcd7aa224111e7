package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"go.uber.org/zap"
)

func newMem() *memstore.Store {
	return memstore.New(auth.NewSigner("secret", time.Hour), auth.NewVerifier("secret"), zap.NewNop())
}

func signUp(t *testing.T, mem *memstore.Store, email string) resource.StaticIdentity {
	t.Helper()
	res, err := mem.SignUp(context.Background(), email, "secret123", nil)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return resource.StaticIdentity{Identity: &res.User, Token: res.Session.AccessToken}
}

// --- SessionManager ---

func signedInSession(t *testing.T, mem *memstore.Store, email string) *domain.Session {
	t.Helper()
	res, err := mem.SignUp(context.Background(), email, "secret123", nil)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return res.Session
}

func TestSessionManager_AnonymousIsNotCached(t *testing.T) {
	mem := newMem()
	m := service.NewSessionManager(mem, mem, time.Hour, "", observability.NewMetrics(), zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ac, err := m.Anonymous(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ac.Loading() || ac.CurrentIdentity() != nil {
			t.Errorf("expected initialized anonymous context, got %+v", ac.Snapshot())
		}
		ac.Close()
	}

	if _, ok, err := m.Lookup(ctx, m.NewID()); ok || err != nil {
		t.Errorf("unknown id must not resolve (ok=%v, err=%v)", ok, err)
	}
	if m.Active() != 0 {
		t.Errorf("expected no cached sessions, got %d", m.Active())
	}
}

func TestSessionManager_EstablishAndLookup(t *testing.T) {
	mem := newMem()
	m := service.NewSessionManager(mem, mem, time.Hour, "", observability.NewMetrics(), zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	sid, ac, err := m.Establish(ctx, "", signedInSession(t, mem, "ana@example.com"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if ident := ac.CurrentIdentity(); ident == nil || ident.Email != "ana@example.com" {
		t.Fatalf("expected signed-in context, got %+v", ident)
	}

	got, ok, err := m.Lookup(ctx, sid)
	if err != nil || !ok || got != ac {
		t.Fatalf("same id must return the same context (ok=%v, err=%v)", ok, err)
	}

	other, _, _ := m.Establish(ctx, "", signedInSession(t, mem, "bob@example.com"))
	if other == sid {
		t.Error("sessions must get distinct ids")
	}
	if m.Active() != 2 {
		t.Errorf("expected 2 active sessions, got %d", m.Active())
	}
}

func TestSessionManager_EstablishRetiresPreviousID(t *testing.T) {
	mem := newMem()
	m := service.NewSessionManager(mem, mem, time.Hour, "", observability.NewMetrics(), zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	first, _, _ := m.Establish(ctx, "", signedInSession(t, mem, "ana@example.com"))
	second, _, err := m.Establish(ctx, first, signedInSession(t, mem, "bob@example.com"))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if second == first {
		t.Fatal("expected a new session id")
	}
	if _, ok, _ := m.Lookup(ctx, first); ok {
		t.Error("previous session id must no longer resolve")
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active session, got %d", m.Active())
	}
}

func TestSessionManager_LookupDropsSignedOutContext(t *testing.T) {
	mem := newMem()
	m := service.NewSessionManager(mem, mem, time.Hour, "", observability.NewMetrics(), zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	sid, ac, _ := m.Establish(ctx, "", signedInSession(t, mem, "ana@example.com"))
	_ = ac.SignOut(ctx)

	if _, ok, _ := m.Lookup(ctx, sid); ok {
		t.Error("signed-out session must not resolve")
	}
	if m.Active() != 0 {
		t.Errorf("expected the context to be dropped, got %d", m.Active())
	}
}

func TestSessionManager_ValidID(t *testing.T) {
	m := service.NewSessionManager(newMem(), newMem(), time.Hour, "", observability.NewMetrics(), zap.NewNop())
	defer m.Close()

	if !m.ValidID(m.NewID()) {
		t.Error("generated id must be valid")
	}
	for _, sid := range []string{"", "../../etc/passwd", "abc"} {
		if m.ValidID(sid) {
			t.Errorf("%q must be rejected", sid)
		}
	}
}

func TestSessionManager_RestoresFromDir(t *testing.T) {
	mem := newMem()
	sess := signedInSession(t, mem, "ana@example.com")
	dir := t.TempDir()
	ctx := context.Background()

	m1 := service.NewSessionManager(mem, mem, time.Hour, dir, observability.NewMetrics(), zap.NewNop())
	sid, _, err := m1.Establish(ctx, "", sess)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	m1.Close()

	m2 := service.NewSessionManager(mem, mem, time.Hour, dir, observability.NewMetrics(), zap.NewNop())
	defer m2.Close()
	restored, ok, err := m2.Lookup(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("expected restored session (ok=%v, err=%v)", ok, err)
	}
	ident := restored.CurrentIdentity()
	if ident == nil || ident.Email != "ana@example.com" {
		t.Fatalf("expected restored identity, got %+v", ident)
	}

	m2.End(sid)
	if _, ok, _ := m2.Lookup(ctx, sid); ok {
		t.Error("ended session must not be restored")
	}
	if _, ok, _ := m2.Lookup(ctx, m2.NewID()); ok {
		t.Error("unknown id must not be restored")
	}
}

// --- Dashboard ---

func TestDashboard_Overview(t *testing.T) {
	mem := newMem()
	set := resource.NewSet(mem, time.Minute, observability.NewMetrics(), zap.NewNop())
	ana := signUp(t, mem, "ana@example.com")
	bob := signUp(t, mem, "bob@example.com")
	ctx := context.Background()

	for _, name := range []string{"Acme", "Globex"} {
		if _, err := set.Clients.As(ana).Create(ctx, domain.ClientInsert{Name: name}); err != nil {
			t.Fatalf("create client: %v", err)
		}
	}
	if _, err := set.Clients.As(bob).Create(ctx, domain.ClientInsert{Name: "Initech"}); err != nil {
		t.Fatal(err)
	}
	if _, err := set.Projects.As(ana).Create(ctx, domain.ProjectInsert{Name: "Audit"}); err != nil {
		t.Fatal(err)
	}

	d := service.NewDashboard(set, zap.NewNop())
	ov, err := d.Overview(ctx, ana)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.Clients.Total != 2 {
		t.Errorf("expected 2 clients, got %d", ov.Clients.Total)
	}
	if ov.Projects.Total != 1 {
		t.Errorf("expected 1 project, got %d", ov.Projects.Total)
	}
	if ov.Expenses.Count != 0 || ov.Bookings.Total != 0 {
		t.Errorf("expected empty expenses and bookings, got %+v %+v", ov.Expenses, ov.Bookings)
	}
}

func TestDashboard_Unauthenticated(t *testing.T) {
	mem := newMem()
	d := service.NewDashboard(resource.NewSet(mem, time.Minute, observability.NewMetrics(), zap.NewNop()), zap.NewNop())

	_, err := d.Overview(context.Background(), resource.Anonymous)
	var unauth *domain.ErrUnauthenticated
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

// --- PublicBookings ---

func TestPublicBookings_Disabled(t *testing.T) {
	mem := newMem()
	set := resource.NewSet(mem, time.Minute, observability.NewMetrics(), zap.NewNop())
	p := service.NewPublicBookings(set.Bookings, "", zap.NewNop())

	if p.Enabled() {
		t.Error("expected disabled intake")
	}
	_, err := p.Create(context.Background(), domain.BookingInsert{ClientName: "Eve"})
	var unavailable *domain.ErrUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestPublicBookings_CreateForConsultant(t *testing.T) {
	mem := newMem()
	set := resource.NewSet(mem, time.Minute, observability.NewMetrics(), zap.NewNop())
	consultant := signUp(t, mem, "consultant@example.com")
	p := service.NewPublicBookings(set.Bookings, consultant.Identity.ID, zap.NewNop())
	ctx := context.Background()

	b, err := p.Create(ctx, domain.BookingInsert{
		UserID:     "someone-else",
		ClientName: "Eve",
		Service:    "Strategy session",
		Date:       domain.Date("2026-11-02"),
		Time:       "10:00",
		Status:     domain.BookingCompleted,
		Source:     domain.SourceReferral,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.UserID != consultant.Identity.ID {
		t.Errorf("expected consultant owner, got %s", b.UserID)
	}
	if b.Status != domain.BookingScheduled || b.Source != domain.SourceWebsite {
		t.Errorf("expected scheduled website booking, got %s/%s", b.Status, b.Source)
	}
	if b.Duration != domain.DefaultBookingMinutes {
		t.Errorf("expected default duration, got %d", b.Duration)
	}

	list, err := set.Bookings.As(consultant).List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("expected the booking in the consultant's list, got %+v", list)
	}

	_, err = p.Create(ctx, domain.BookingInsert{Service: "x", Date: "2026-11-02", Time: "10:00"})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
