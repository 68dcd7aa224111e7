package service

import (
	"context"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/overview"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dashboard serves the aggregated overview page.
type Dashboard struct {
	resources *resource.Set
	logger    *zap.Logger
	now       func() time.Time
}

// NewDashboard creates a dashboard over the resource set.
func NewDashboard(resources *resource.Set, logger *zap.Logger) *Dashboard {
	return &Dashboard{resources: resources, logger: logger, now: time.Now}
}

// Overview fetches the caller's four collections concurrently and summarizes them.
func (d *Dashboard) Overview(ctx context.Context, src resource.IdentitySource) (*domain.Overview, error) {
	if src.CurrentIdentity() == nil {
		return nil, &domain.ErrUnauthenticated{Operation: "dashboard overview"}
	}

	ctx, span := tracer.Start(ctx, "Dashboard.Overview")
	defer span.End()

	var (
		clients  []domain.Client
		projects []domain.Project
		expenses []domain.Expense
		bookings []domain.Booking
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		clients, err = d.resources.Clients.As(src).List(gctx)
		return err
	})
	g.Go(func() (err error) {
		projects, err = d.resources.Projects.As(src).List(gctx)
		return err
	})
	g.Go(func() (err error) {
		expenses, err = d.resources.Expenses.As(src).List(gctx)
		return err
	})
	g.Go(func() (err error) {
		bookings, err = d.resources.Bookings.As(src).List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		d.logger.Warn("dashboard: overview fetch failed", zap.Error(err))
		return nil, err
	}

	ov := overview.Compute(clients, projects, expenses, bookings, d.now())
	return &ov, nil
}
