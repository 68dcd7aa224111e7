package observability

import (
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const (
	metricCacheHits          = "bfa_cache_hits_total"
	metricCacheMisses        = "bfa_cache_misses_total"
	metricCacheInvalidations = "bfa_cache_invalidations_total"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration       *prometheus.HistogramVec
	externalErrors        *prometheus.CounterVec
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
	cacheInvalidations    *prometheus.CounterVec
	authEvents            *prometheus.CounterVec
	signUpProfileFailures prometheus.Counter
	activeSessions        prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheHits,
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheMisses,
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		cacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheInvalidations,
				Help: "Total cache entries dropped by tag invalidation.",
			},
			[]string{"cache"},
		),
		authEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_auth_events_total",
				Help: "Auth state change events delivered to contexts.",
			},
			[]string{"event"},
		),
		signUpProfileFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_signup_profile_update_failures_total",
				Help: "Sign-ups whose profile name could not be written.",
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_active_sessions",
				Help: "Browser sessions currently held in memory.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// AddCacheInvalidations counts entries removed by an invalidation.
func (m *Metrics) AddCacheInvalidations(cache string, n int) {
	m.cacheInvalidations.WithLabelValues(cache).Add(float64(n))
}

// IncrAuthEvent counts a session change event.
func (m *Metrics) IncrAuthEvent(event string) {
	m.authEvents.WithLabelValues(event).Inc()
}

// IncrSignUpProfileFailure counts a sign-up that succeeded without its profile name.
func (m *Metrics) IncrSignUpProfileFailure() {
	m.signUpProfileFailures.Inc()
}

// SetActiveSessions reports the number of live browser sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// CacheSnapshot sums the cache counters across all caches for the
// GET /v1/metrics/cache endpoint.
func (m *Metrics) CacheSnapshot() *domain.CacheMetrics {
	hits := sumCounter(m.Registry, metricCacheHits)
	misses := sumCounter(m.Registry, metricCacheMisses)

	snap := &domain.CacheMetrics{
		Hits:          hits,
		Misses:        misses,
		Invalidations: counterByLabel(m.Registry, metricCacheInvalidations, "cache"),
	}
	if hits+misses > 0 {
		snap.HitRate = hits / (hits + misses)
	}
	return snap
}

// SignUpProfileFailures returns the current value of the sign-up profile failure counter.
func (m *Metrics) SignUpProfileFailures() float64 {
	return sumCounter(m.Registry, "bfa_signup_profile_update_failures_total")
}

func sumCounter(reg *prometheus.Registry, name string) float64 {
	var total float64
	for _, v := range counterByLabel(reg, name, "") {
		total += v
	}
	return total
}

// counterByLabel gathers a counter family and groups its values by one label.
// An empty label collapses everything under "".
func counterByLabel(reg *prometheus.Registry, name, label string) map[string]float64 {
	out := map[string]float64{}
	families, err := reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			out[labelValue(metric, label)] += metric.GetCounter().GetValue()
		}
	}
	return out
}

func labelValue(m *dto.Metric, label string) string {
	if label == "" {
		return ""
	}
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}
