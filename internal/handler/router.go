package handler

import (
	"net/http"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/guard"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services is everything the router dispatches to.
type Services struct {
	Sessions  *service.SessionManager
	Resources *resource.Set
	Dashboard *service.Dashboard
	Bookings  *service.PublicBookings
	Verifier  *auth.Verifier
	Rows      port.RowStore
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	Cookies        CookieConfig
	StaticDir      string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) (http.Handler, error) {
	app, err := newShell(opts.StaticDir, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(PreferencesMiddleware)

	withSession := SessionMiddleware(svc.Sessions, svc.Verifier, logger)

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Rows, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.NotFound(apiNotFoundHandler())

		r.Get("/metrics/cache", cacheMetricsHandler(metrics))
		r.Get("/preferences", getPreferencesHandler())
		r.Put("/preferences", updatePreferencesHandler(opts.Cookies, logger))
		r.Post("/public/bookings", publicBookingHandler(svc.Bookings, logger))

		r.Group(func(r chi.Router) {
			r.Use(withSession)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signin", signInHandler(svc.Sessions, opts.Cookies, logger))
				r.Post("/signup", signUpHandler(svc.Sessions, opts.Cookies, logger))
				r.Post("/signout", signOutHandler(svc.Sessions, opts.Cookies, logger))
				r.Post("/refresh", refreshHandler(logger))
				r.Get("/session", sessionHandler())
			})

			// Everything below requires a signed-in identity.
			r.Group(func(r chi.Router) {
				r.Use(guard.RequireIdentity(resolveState, unauthenticatedHandler()))

				r.Get("/profile", getProfileHandler())
				r.Put("/profile", updateProfileHandler(logger))
				r.Get("/dashboard/overview", overviewHandler(svc.Dashboard, logger))

				mountResource(r, svc.Resources.Clients, logger)
				mountResource(r, svc.Resources.Projects, logger)
				mountResource(r, svc.Resources.Expenses, logger)
				mountResource(r, svc.Resources.Bookings, logger)
			})
		})
	})

	// --- Pages ---
	if opts.StaticDir != "" {
		r.Handle("/assets/*", http.FileServer(http.Dir(opts.StaticDir)))
	}
	r.Group(func(r chi.Router) {
		r.Use(withSession)

		r.Get("/", app.page())
		r.Get("/book", app.page())
		r.Get("/login", authPage(app))
		r.Get("/signup", authPage(app))

		r.Group(func(r chi.Router) {
			r.Use(guard.Protect(resolveState, app.page()))
			r.Get("/dashboard", app.page())
			r.Get("/dashboard/{section}", dashboardSectionPage(app))
		})
	})
	r.NotFound(app.notFound())

	return r, nil
}
