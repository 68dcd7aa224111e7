package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/i18n"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Dashboard overview — GET /v1/dashboard/overview
// ============================================================

func overviewHandler(svc *service.Dashboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard/overview")
		defer span.End()

		ov, err := svc.Overview(ctx, authContextFrom(ctx))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

// ============================================================
// Public booking intake — POST /v1/public/bookings
// ============================================================

func publicBookingHandler(svc *service.PublicBookings, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/public/bookings")
		defer span.End()

		if !svc.Enabled() {
			writeError(w, r, http.StatusServiceUnavailable, i18n.MsgBookingDisabled)
			return
		}

		var in domain.BookingInsert
		if !decodeJSON(w, r, &in) {
			return
		}

		b, err := svc.Create(ctx, in)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// ============================================================
// Preferences — GET|PUT /v1/preferences
// ============================================================

func getPreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, preferencesFrom(r.Context()))
	}
}

func updatePreferencesHandler(cookies CookieConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs := preferencesFrom(r.Context())

		var req domain.Preferences
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Theme != "" {
			if !domain.ValidTheme(req.Theme) {
				handleServiceError(w, r, &domain.ErrValidation{Field: "theme", Message: "must be light or dark"}, logger)
				return
			}
			prefs.Theme = req.Theme
		}
		if req.Language != "" {
			lang, ok := i18n.Match(req.Language)
			if !ok {
				handleServiceError(w, r, &domain.ErrValidation{Field: "language", Message: "unsupported language"}, logger)
				return
			}
			prefs.Language = lang
		}

		setPreferenceCookie(w, themeCookie, prefs.Theme, cookies.Secure)
		setPreferenceCookie(w, languageCookie, prefs.Language, cookies.Secure)
		w.Header().Set("Content-Language", prefs.Language)
		writeJSON(w, http.StatusOK, prefs)
	}
}

func setPreferenceCookie(w http.ResponseWriter, name, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(preferenceMaxAge.Seconds()),
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ============================================================
// Operational — /healthz, /readyz, /v1/metrics/cache
// ============================================================

func healthzHandler(rows port.RowStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}

		start := time.Now()
		err := rows.Ping(ctx)
		backend := domain.ServiceHealth{
			Name:        "backend",
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			logger.Warn("health check: backend unreachable", zap.Error(err))
			backend.Status = "degraded"
			backend.Error = err.Error()
		}
		services = append(services, backend)

		overall := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overall = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func cacheMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.CacheSnapshot())
	}
}
