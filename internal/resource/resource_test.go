package resource_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"

	"go.uber.org/zap"
)

// countingRows counts every backend call.
type countingRows struct {
	port.RowStore
	calls int32
}

func (c *countingRows) Select(ctx context.Context, table string, q port.Query, out any) error {
	atomic.AddInt32(&c.calls, 1)
	return c.RowStore.Select(ctx, table, q, out)
}

func (c *countingRows) Insert(ctx context.Context, table string, row any, out any) error {
	atomic.AddInt32(&c.calls, 1)
	return c.RowStore.Insert(ctx, table, row, out)
}

func (c *countingRows) Update(ctx context.Context, table string, f []port.Filter, patch any, out any) error {
	atomic.AddInt32(&c.calls, 1)
	return c.RowStore.Update(ctx, table, f, patch, out)
}

func (c *countingRows) Delete(ctx context.Context, table string, f []port.Filter) error {
	atomic.AddInt32(&c.calls, 1)
	return c.RowStore.Delete(ctx, table, f)
}

func (c *countingRows) count() int32 { return atomic.LoadInt32(&c.calls) }

// pausingRows holds the first Select after it has read from the backend
// until release is closed.
type pausingRows struct {
	port.RowStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingRows(rows port.RowStore) *pausingRows {
	return &pausingRows{RowStore: rows, read: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingRows) Select(ctx context.Context, table string, q port.Query, out any) error {
	err := p.RowStore.Select(ctx, table, q, out)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return err
}

type fixture struct {
	mem     *memstore.Store
	rows    *countingRows
	set     *resource.Set
	metrics *observability.Metrics
}

func newFixture() *fixture {
	mem := memstore.New(auth.NewSigner("secret", time.Hour), auth.NewVerifier("secret"), zap.NewNop())
	rows := &countingRows{RowStore: mem}
	metrics := observability.NewMetrics()
	return &fixture{
		mem:     mem,
		rows:    rows,
		set:     resource.NewSet(rows, time.Minute, metrics, zap.NewNop()),
		metrics: metrics,
	}
}

func (f *fixture) user(t *testing.T, email string) resource.StaticIdentity {
	t.Helper()
	res, err := f.mem.SignUp(context.Background(), email, "secret123", nil)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return resource.StaticIdentity{Identity: &res.User, Token: res.Session.AccessToken}
}

func strPtr(s string) *string { return &s }

func TestUnauthenticated_NoBackendCalls(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	clients := f.set.Clients.As(resource.Anonymous)

	list, err := clients.List(ctx)
	if err != nil || list != nil {
		t.Fatalf("expected nil list, got %v (%v)", list, err)
	}
	item, err := clients.Get(ctx, "c1")
	if err != nil || item != nil {
		t.Fatalf("expected nil item, got %v (%v)", item, err)
	}

	_, err = clients.Create(ctx, domain.ClientInsert{Name: "Acme"})
	var unauth *domain.ErrUnauthenticated
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := clients.Update(ctx, "c1", domain.ClientUpdate{Name: strPtr("B")}); !errors.As(err, &unauth) {
		t.Errorf("update: expected ErrUnauthenticated, got %v", err)
	}
	if err := clients.Delete(ctx, "c1"); !errors.As(err, &unauth) {
		t.Errorf("delete: expected ErrUnauthenticated, got %v", err)
	}

	if n := f.rows.count(); n != 0 {
		t.Errorf("expected no backend calls, got %d", n)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u1 := f.user(t, "u1@x.io")
	u2 := f.user(t, "u2@x.io")

	created, err := f.set.Projects.As(u1).Create(ctx, domain.ProjectInsert{Name: "Site Revamp"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.UserID != u1.Identity.ID {
		t.Errorf("expected owner u1, got %s", created.UserID)
	}

	list, err := f.set.Projects.As(u2).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range list {
		if p.ID == created.ID {
			t.Fatal("u2 must not see u1's project")
		}
	}

	_, err = f.set.Projects.As(u2).Get(ctx, created.ID)
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound for u2, got %v", err)
	}

	_, err = f.set.Projects.As(u2).Update(ctx, created.ID, domain.ProjectUpdate{Name: strPtr("Hijacked")})
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound updating a foreign row, got %v", err)
	}

	if err := f.set.Projects.As(u2).Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := f.set.Projects.As(u1).Get(ctx, created.ID)
	if err != nil || got.Name != "Site Revamp" {
		t.Errorf("u1 row must be untouched, got %+v (%v)", got, err)
	}
}

func TestCreateForcesOwner(t *testing.T) {
	f := newFixture()
	u1 := f.user(t, "u1@x.io")
	u2 := f.user(t, "u2@x.io")

	c, err := f.set.Clients.As(u1).Create(context.Background(), domain.ClientInsert{
		UserID: u2.Identity.ID,
		Name:   "Acme",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.UserID != u1.Identity.ID {
		t.Errorf("expected forced owner %s, got %s", u1.Identity.ID, c.UserID)
	}
	if c.Status != domain.ClientActive {
		t.Errorf("expected default status active, got %s", c.Status)
	}
}

func TestRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u1 := f.user(t, "u1@x.io")
	bookings := f.set.Bookings.As(u1)

	in := domain.BookingInsert{
		ClientName:  "Dana",
		ClientEmail: strPtr("dana@x.io"),
		Service:     "Strategy session",
		Date:        "2026-11-02",
		Time:        "10:30",
		Notes:       strPtr("first call"),
		Source:      domain.SourceReferral,
	}
	created, err := bookings.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := bookings.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := domain.Booking{
		ID:          created.ID,
		UserID:      u1.Identity.ID,
		ClientName:  "Dana",
		ClientEmail: strPtr("dana@x.io"),
		Service:     "Strategy session",
		Date:        "2026-11-02",
		Time:        "10:30",
		Duration:    domain.DefaultBookingMinutes,
		Status:      domain.BookingScheduled,
		Notes:       strPtr("first call"),
		Source:      domain.SourceReferral,
		CreatedAt:   got.CreatedAt,
		UpdatedAt:   got.UpdatedAt,
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *got, want)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected server-assigned created_at")
	}
}

func TestListIsCachedAndInvalidatedByMutation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u1 := f.user(t, "u1@x.io")
	clients := f.set.Clients.As(u1)

	if _, err := clients.Create(ctx, domain.ClientInsert{Name: "Acme"}); err != nil {
		t.Fatal(err)
	}
	first, _ := clients.List(ctx)
	before := f.rows.count()
	second, _ := clients.List(ctx)
	if f.rows.count() != before {
		t.Error("second list must be served from cache")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached list differs")
	}

	if _, err := clients.Create(ctx, domain.ClientInsert{Name: "Beta"}); err != nil {
		t.Fatal(err)
	}
	third, _ := clients.List(ctx)
	if len(third) != 2 || third[0].Name != "Beta" {
		t.Fatalf("expected refetched list newest first, got %+v", third)
	}

	snap := f.metrics.CacheSnapshot()
	if snap.Hits < 1 || snap.Invalidations["clients"] < 1 {
		t.Errorf("unexpected cache metrics %+v", snap)
	}
}

func TestListOverlappingCreateIsNotCached(t *testing.T) {
	mem := memstore.New(auth.NewSigner("secret", time.Hour), auth.NewVerifier("secret"), zap.NewNop())
	rows := newPausingRows(mem)
	set := resource.NewSet(rows, time.Minute, observability.NewMetrics(), zap.NewNop())
	defer set.Close()

	ctx := context.Background()
	res, err := mem.SignUp(ctx, "u1@x.io", "secret123", nil)
	if err != nil {
		t.Fatal(err)
	}
	clients := set.Clients.As(resource.StaticIdentity{Identity: &res.User, Token: res.Session.AccessToken})

	done := make(chan []domain.Client)
	go func() {
		list, _ := clients.List(ctx)
		done <- list
	}()

	<-rows.read
	if _, err := clients.Create(ctx, domain.ClientInsert{Name: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	close(rows.release)
	if list := <-done; len(list) != 0 {
		t.Fatalf("overlapping read should see the pre-create rows, got %d", len(list))
	}

	list, err := clients.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Acme" {
		t.Errorf("read after a successful create must refetch, got %+v", list)
	}
}

func TestInvalidationIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u1 := f.user(t, "u1@x.io")
	expenses := f.set.Expenses.As(u1)

	for _, d := range []domain.Date{"2026-01-10", "2026-03-05"} {
		if _, err := expenses.Create(ctx, domain.ExpenseInsert{Description: "Train", Amount: 42.5, Date: d}); err != nil {
			t.Fatal(err)
		}
	}

	before, _ := expenses.List(ctx)
	f.set.Expenses.Invalidate(u1.Identity.ID)
	after, _ := expenses.List(ctx)

	if !reflect.DeepEqual(before, after) {
		t.Errorf("refetch after invalidation differs:\n%+v\n%+v", before, after)
	}
	if before[0].Date != "2026-03-05" {
		t.Errorf("expected date descending, got %s first", before[0].Date)
	}
}

func TestClientMutationRefreshesDependentEmbeds(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u1 := f.user(t, "u1@x.io")

	client, _ := f.set.Clients.As(u1).Create(ctx, domain.ClientInsert{Name: "Acme"})
	_, err := f.set.Projects.As(u1).Create(ctx, domain.ProjectInsert{Name: "Site Revamp", ClientID: &client.ID})
	if err != nil {
		t.Fatal(err)
	}

	projects, _ := f.set.Projects.As(u1).List(ctx)
	if projects[0].Client == nil || projects[0].Client.Name != "Acme" {
		t.Fatalf("expected embedded client, got %+v", projects[0].Client)
	}

	if _, err := f.set.Clients.As(u1).Update(ctx, client.ID, domain.ClientUpdate{Name: strPtr("Acme Corp")}); err != nil {
		t.Fatal(err)
	}
	projects, _ = f.set.Projects.As(u1).List(ctx)
	if projects[0].Client.Name != "Acme Corp" {
		t.Errorf("expected refreshed embed, got %q", projects[0].Client.Name)
	}
}

func TestValidationBeforeNetwork(t *testing.T) {
	f := newFixture()
	u1 := f.user(t, "u1@x.io")
	before := f.rows.count()

	progress := 150
	_, err := f.set.Projects.As(u1).Create(context.Background(), domain.ProjectInsert{Name: "X", Progress: &progress})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) || valErr.Field != "progress" {
		t.Fatalf("expected progress validation error, got %v", err)
	}

	_, err = f.set.Clients.As(u1).Update(context.Background(), "c1", domain.ClientUpdate{})
	if !errors.As(err, &valErr) {
		t.Fatalf("expected empty patch rejected, got %v", err)
	}
	if f.rows.count() != before {
		t.Error("validation failures must not reach the backend")
	}
}

func TestSetClose(t *testing.T) {
	f := newFixture()
	f.set.Close()
	f.set.Close()

	// Closing only stops expiry sweeps; reads still work.
	u1 := f.user(t, "u1@x.io")
	if _, err := f.set.Clients.As(u1).List(context.Background()); err != nil {
		t.Errorf("list after close: %v", err)
	}
}
