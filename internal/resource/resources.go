package resource

import (
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/cache"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"go.uber.org/zap"
)

type (
	Clients  = Resource[domain.Client, domain.ClientInsert, domain.ClientUpdate]
	Projects = Resource[domain.Project, domain.ProjectInsert, domain.ProjectUpdate]
	Expenses = Resource[domain.Expense, domain.ExpenseInsert, domain.ExpenseUpdate]
	Bookings = Resource[domain.Booking, domain.BookingInsert, domain.BookingUpdate]
)

// Set bundles the four dashboard resources over one row store.
type Set struct {
	Clients  *Clients
	Projects *Projects
	Expenses *Expenses
	Bookings *Bookings

	closers []func()
}

var (
	clientsConfig = Config{
		Name:       "clients",
		Columns:    "*",
		Order:      port.Order{Column: "created_at"},
		Dependents: []string{"projects", "expenses"},
	}
	projectsConfig = Config{
		Name:       "projects",
		Columns:    "*,clients(name)",
		Order:      port.Order{Column: "created_at"},
		Dependents: []string{"expenses"},
	}
	expensesConfig = Config{
		Name:    "expenses",
		Columns: "*,clients(name),projects(name)",
		Order:   port.Order{Column: "date"},
	}
	bookingsConfig = Config{
		Name:    "bookings",
		Columns: "*",
		Order:   port.Order{Column: "date", Ascending: true},
	}
)

// NewSet creates the four resources with in-memory caches holding reads for ttl.
// Close stops the caches' sweepers.
func NewSet(rows port.RowStore, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Set {
	registry := NewRegistry(metrics)

	clients := cache.New[[]domain.Client](ttl)
	projects := cache.New[[]domain.Project](ttl)
	expenses := cache.New[[]domain.Expense](ttl)
	bookings := cache.New[[]domain.Booking](ttl)

	return &Set{
		Clients: New[domain.Client, domain.ClientInsert, domain.ClientUpdate](
			clientsConfig, rows, clients, registry, metrics, logger),
		Projects: New[domain.Project, domain.ProjectInsert, domain.ProjectUpdate](
			projectsConfig, rows, projects, registry, metrics, logger),
		Expenses: New[domain.Expense, domain.ExpenseInsert, domain.ExpenseUpdate](
			expensesConfig, rows, expenses, registry, metrics, logger),
		Bookings: New[domain.Booking, domain.BookingInsert, domain.BookingUpdate](
			bookingsConfig, rows, bookings, registry, metrics, logger),
		closers: []func(){clients.Close, projects.Close, expenses.Close, bookings.Close},
	}
}

// Close stops the background work of the resource caches.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
}
