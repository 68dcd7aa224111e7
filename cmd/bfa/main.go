package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/config"
	"github.com/boddenberg/consultant-bfa-go/internal/handler"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// memoryTokenTTL is the access token lifetime of the in-memory backend.
const memoryTokenTTL = time.Hour

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("backend", cfg.Backend),
		zap.Bool("use_supabase", cfg.UseSupabase()),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Bool("session_persisted", cfg.SessionDir != ""),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("public_booking", cfg.ConsultantUserID != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "consultant-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Backend ---
	verifier := auth.NewVerifier(cfg.SupabaseJWTSecret)

	var authBackend port.AuthBackend
	var rows port.RowStore

	if cfg.UseSupabase() {
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))

		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		cb := resilience.NewCircuitBreaker("supabase", func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})

		client := supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			metrics,
			logger,
		)
		authBackend, rows = client, client
	} else {
		logger.Warn("using in-memory data backend: data is lost on restart")
		mem := memstore.New(auth.NewSigner(cfg.SupabaseJWTSecret, memoryTokenTTL), verifier, logger)
		authBackend, rows = mem, mem
	}

	// --- Services ---
	resources := resource.NewSet(rows, cfg.CacheTTL, metrics, logger)
	defer resources.Close()
	sessions := service.NewSessionManager(authBackend, rows, cfg.SessionTTL, cfg.SessionDir, metrics, logger)
	defer sessions.Close()

	// --- Router ---
	router, err := handler.NewRouter(handler.Services{
		Sessions:  sessions,
		Resources: resources,
		Dashboard: service.NewDashboard(resources, logger),
		Bookings:  service.NewPublicBookings(resources.Bookings, cfg.ConsultantUserID, logger),
		Verifier:  verifier,
		Rows:      rows,
	}, handler.Options{
		AllowedOrigins: cfg.AllowedOrigin,
		Cookies: handler.CookieConfig{
			Secure:     cfg.CookieSecure,
			SessionTTL: cfg.SessionTTL,
		},
		StaticDir: cfg.StaticDir,
	}, metrics, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
