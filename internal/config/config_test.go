package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/budget-api/internal/config"
)

// base clears every key a developer shell might export so tests see defaults.
func base(overrides map[string]string) map[string]string {
	env := map[string]string{
		"DATABASE_URL":              "",
		"REDIS_URL":                 "",
		"JWT_SECRET":                "test-secret",
		"STORE_DRIVER":              "",
		"LOCK_DRIVER":               "",
		"CATALOG_DRIVER":            "",
		"CATALOG_BASE_URL":          "",
		"CATALOG_CACHE_TTL":         "",
		"RATE_LIMIT_DRIVER":         "",
		"EVENTS_ENABLED":            "",
		"QUOTE_ENFORCE_DRAFT_GUARD": "",
		"PRICING_ZERO_ON_MISSING":   "",
		"LOCK_TTL":                  "",
		"QUOTE_OP_TIMEOUT":          "",
		"OTEL_TRACES_SAMPLER_ARG":   "",
		"CURRENCY_CODE":             "",
		"PORT":                      "",
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(base(map[string]string{
		"DATABASE_URL": "postgres://localhost/budget",
		"REDIS_URL":    "redis://localhost:6379/0",
	}))
	require.NoError(t, err)
	require.Equal(t, config.DriverPostgres, cfg.StoreDriver)
	require.Equal(t, config.DriverRedis, cfg.LockDriver)
	require.True(t, cfg.QuoteEnforceDraftGuard)
	require.False(t, cfg.PricingZeroOnMissing)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
	require.Equal(t, 10*time.Second, cfg.QuoteOpTimeout)
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadMemoryModeNeedsNoInfrastructure(t *testing.T) {
	cfg, err := config.LoadForTests(base(map[string]string{
		"STORE_DRIVER":      "memory",
		"LOCK_DRIVER":       "local",
		"CATALOG_DRIVER":    "http",
		"CATALOG_BASE_URL":  "http://catalog.local/",
		"RATE_LIMIT_DRIVER": "off",
		"EVENTS_ENABLED":    "false",
		"PORT":              ":9090",
	}))
	require.NoError(t, err)
	require.False(t, cfg.NeedsDatabase())
	require.False(t, cfg.NeedsRedis())
	require.Equal(t, "http://catalog.local", cfg.CatalogBaseURL)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database": {"REDIS_URL": "redis://x"},
		"missing redis":    {"DATABASE_URL": "postgres://x"},
		"missing secret":   {"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "JWT_SECRET": ""},
		"unknown store":    {"STORE_DRIVER": "mongo", "REDIS_URL": "redis://x"},
		"http w/o url":     {"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "CATALOG_DRIVER": "http"},
		"op outlives lock": {"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "QUOTE_OP_TIMEOUT": "30s", "LOCK_TTL": "30s"},
		"unbounded op":     {"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "QUOTE_OP_TIMEOUT": "0s"},
		"sampler above 1":  {"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "OTEL_TRACES_SAMPLER_ARG": "1.5"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadForTests(base(overrides))
			require.Error(t, err)
		})
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := config.LoadForTests(base(map[string]string{
		"STORE_DRIVER":              "memory",
		"LOCK_DRIVER":               "local",
		"CATALOG_DRIVER":            "http",
		"CATALOG_BASE_URL":          "http://c",
		"RATE_LIMIT_DRIVER":         "off",
		"EVENTS_ENABLED":            "no",
		"QUOTE_ENFORCE_DRAFT_GUARD": "false",
		"PRICING_ZERO_ON_MISSING":   "1",
		"LOCK_TTL":                  "bogus",
	}))
	require.NoError(t, err)
	require.False(t, cfg.QuoteEnforceDraftGuard)
	require.True(t, cfg.PricingZeroOnMissing)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
}

func TestLoadSamplerRatio(t *testing.T) {
	infra := map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x"}
	cases := map[string]float64{"": 1, "0": 0, "0.25": 0.25, "-1": 1, "junk": 1}
	for raw, want := range cases {
		env := base(infra)
		env["OTEL_TRACES_SAMPLER_ARG"] = raw
		cfg, err := config.LoadForTests(env)
		require.NoError(t, err, raw)
		require.Equal(t, want, cfg.TracingSampling, raw)
	}
}

func TestLoadOpTimeoutWithinLockTTL(t *testing.T) {
	cfg, err := config.LoadForTests(base(map[string]string{
		"DATABASE_URL":     "postgres://x",
		"REDIS_URL":        "redis://x",
		"QUOTE_OP_TIMEOUT": "5s",
		"LOCK_TTL":         "6s",
	}))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.QuoteOpTimeout)
	require.Equal(t, 6*time.Second, cfg.LockTTL)
}
