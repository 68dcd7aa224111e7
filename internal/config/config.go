package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret signs in-memory backend tokens when SUPABASE_JWT_SECRET is unset.
const DevJWTSecret = "bfa-default-dev-secret-change-me"

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Data backend: "supabase" or "memory"
	Backend string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience. Retries apply to reads only; 0 keeps the single-attempt contract.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Query cache
	CacheTTL time.Duration

	// Browser sessions
	SessionTTL    time.Duration
	SessionDir    string // optional; persists browser sessions as JSON files
	CookieSecure  bool
	AllowedOrigin []string

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Public booking intake (/book). Empty disables the endpoint.
	ConsultantUserID string

	// SPA shell directory. Empty serves the embedded shell.
	StaticDir string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Backend: getEnv("BACKEND", "supabase"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 0),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SessionDir:    getEnv("SESSION_DIR", ""),
		CookieSecure:  getEnv("COOKIE_SECURE", "true") == "true",
		AllowedOrigin: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", DevJWTSecret),

		ConsultantUserID: getEnv("CONSULTANT_USER_ID", ""),

		StaticDir: getEnv("STATIC_DIR", ""),
	}
}

// UseSupabase reports whether the Supabase backend is selected and reachable by config.
func (c *Config) UseSupabase() bool {
	return c.Backend == "supabase" && c.SupabaseURL != ""
}

// Validate rejects configurations that must not serve traffic.
func (c *Config) Validate() error {
	if c.UseSupabase() && c.SupabaseJWTSecret == DevJWTSecret {
		return errors.New("SUPABASE_JWT_SECRET is required with the supabase backend")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
