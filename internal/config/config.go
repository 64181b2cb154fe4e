package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Driver names accepted by the *_DRIVER keys.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverLocal    = "local"
	DriverHTTP     = "http"
	DriverSliding  = "sliding"
	DriverUlule    = "ulule"
	DriverOff      = "off"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string
	LogLevel           string
	LogFormat          string

	StoreDriver      string
	LockDriver       string
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	QuoteOpTimeout         time.Duration
	QuoteEnforceDraftGuard bool
	PricingZeroOnMissing   bool
	CurrencyCode           string

	CatalogDriver   string
	CatalogBaseURL  string
	CatalogCacheTTL time.Duration
	CatalogTimeout  time.Duration
	Breaker         BreakerConfig
	Retry           RetryConfig

	IdempotencyTTL         time.Duration
	RateLimitDriver        string
	RateLimitMax           int
	RateLimitWindow        time.Duration
	BodyLimitBytes         int64
	SecurityHeadersEnabled bool

	EventsEnabled     bool
	WorkerConcurrency int

	TracingExporter string
	TracingEndpoint string
	TracingSampling float64
}

// BreakerConfig tunes the circuit breaker in front of the HTTP catalog.
type BreakerConfig struct {
	MinRequests int
	FailureRate float64
	OpenFor     time.Duration
}

// RetryConfig tunes retries of the HTTP catalog.
type RetryConfig struct {
	Base          time.Duration
	MaxAttempts   int
	JitterPercent int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "budget-api"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "budget-api"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),

		StoreDriver:      strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), DriverPostgres)),
		LockDriver:       strings.ToLower(valueOrDefault(k.String("LOCK_DRIVER"), DriverRedis)),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),

		QuoteOpTimeout:         parseDuration(k.String("QUOTE_OP_TIMEOUT"), "10s"),
		QuoteEnforceDraftGuard: parseBool(k.String("QUOTE_ENFORCE_DRAFT_GUARD"), true),
		PricingZeroOnMissing:   parseBool(k.String("PRICING_ZERO_ON_MISSING"), false),
		CurrencyCode:           strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),

		CatalogDriver:   strings.ToLower(valueOrDefault(k.String("CATALOG_DRIVER"), DriverPostgres)),
		CatalogBaseURL:  strings.TrimRight(strings.TrimSpace(k.String("CATALOG_BASE_URL")), "/"),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "0s"),
		CatalogTimeout:  parseDuration(k.String("CATALOG_TIMEOUT"), "2s"),
		Breaker: BreakerConfig{
			MinRequests: parseInt(k.String("CIRCUIT_CATALOG_MIN_REQ"), 20),
			FailureRate: parseFloat(k.String("CIRCUIT_CATALOG_FAILURE_RATE"), 0.5),
			OpenFor:     parseDuration(k.String("CIRCUIT_CATALOG_OPEN_FOR"), "30s"),
		},
		Retry: RetryConfig{
			Base:          parseDuration(k.String("RETRY_BASE"), "100ms"),
			MaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
			JitterPercent: parseInt(k.String("RETRY_JITTER_PERCENT"), 20),
		},

		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitDriver:        strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_DRIVER"), DriverSliding)),
		RateLimitMax:           parseInt(k.String("RATE_LIMIT_MAX"), 120),
		RateLimitWindow:        parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		BodyLimitBytes:         int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled: parseBool(k.String("SECURITY_HEADERS_ENABLED"), true),

		EventsEnabled:     parseBool(k.String("EVENTS_ENABLED"), true),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),

		TracingExporter: valueOrDefault(k.String("OTEL_TRACES_EXPORTER"), "none"),
		TracingEndpoint: strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TracingSampling: parseFloat(k.String("OTEL_TRACES_SAMPLER_ARG"), 1),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver)
	}
	switch c.LockDriver {
	case DriverRedis, DriverLocal:
	default:
		return fmt.Errorf("LOCK_DRIVER %q is not supported", c.LockDriver)
	}
	switch c.CatalogDriver {
	case DriverPostgres, DriverHTTP:
	default:
		return fmt.Errorf("CATALOG_DRIVER %q is not supported", c.CatalogDriver)
	}
	switch c.RateLimitDriver {
	case DriverSliding, DriverUlule, DriverOff:
	default:
		return fmt.Errorf("RATE_LIMIT_DRIVER %q is not supported", c.RateLimitDriver)
	}

	if c.DatabaseURL == "" && c.NeedsDatabase() {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" && c.NeedsRedis() {
		return errors.New("REDIS_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.CatalogDriver == DriverHTTP && c.CatalogBaseURL == "" {
		return errors.New("CATALOG_BASE_URL is required when CATALOG_DRIVER=http")
	}
	if c.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}
	if c.QuoteOpTimeout <= 0 || c.QuoteOpTimeout >= c.LockTTL {
		return fmt.Errorf("QUOTE_OP_TIMEOUT (%s) must be positive and below LOCK_TTL (%s)", c.QuoteOpTimeout, c.LockTTL)
	}
	if c.TracingSampling > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG %v must be within [0, 1]", c.TracingSampling)
	}
	return nil
}

// NeedsDatabase reports whether any configured component talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.StoreDriver == DriverPostgres || c.CatalogDriver == DriverPostgres
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.LockDriver == DriverRedis || c.CatalogCacheTTL > 0 || c.RateLimitDriver != DriverOff || c.EventsEnabled
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// MustLoad is Load for binaries: a bad configuration panics at startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
