// Package app wires configuration into the concrete stores, catalogs and
// middleware used by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/budget-api/internal/auth"
	"github.com/noah-isme/budget-api/internal/catalog"
	"github.com/noah-isme/budget-api/internal/config"
	"github.com/noah-isme/budget-api/internal/db"
	"github.com/noah-isme/budget-api/internal/events"
	"github.com/noah-isme/budget-api/internal/lock"
	"github.com/noah-isme/budget-api/internal/obs"
	"github.com/noah-isme/budget-api/internal/pricing"
	"github.com/noah-isme/budget-api/internal/queue"
	"github.com/noah-isme/budget-api/internal/quote"
	"github.com/noah-isme/budget-api/internal/ratelimit"
	"github.com/noah-isme/budget-api/internal/resilience"
)

// App holds the shared dependencies of the API process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Tasks   *asynq.Client
	Catalog pricing.Catalog
	Quotes  *quote.Service
	Tokens  *auth.Tokens
	Limiter ratelimit.Limiter
	Metrics *obs.HTTPMetrics

	closers []func() error
}

// New connects the infrastructure selected by cfg and builds the quote
// service on top of it. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.NeedsDatabase() {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, "budget-api", obs.PGXTracer{})
		if err != nil {
			return err
		}
		a.DB = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	}
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, rdb.Close)
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			a.Logger.Warn().Err(err).Msg("instrument redis tracing")
		}
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			a.Logger.Warn().Err(err).Msg("instrument redis metrics")
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		a.Redis = rdb
	}
	return nil
}

func (a *App) build() error {
	cfg := a.Config

	cat, err := a.priceCatalog()
	if err != nil {
		return err
	}
	a.Catalog = cat

	var store quote.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = quote.NewMemoryStore()
	default:
		store = &quote.PGStore{Pool: a.DB}
	}

	var directory quote.Directory = catalog.OpenDirectory{}
	if a.DB != nil {
		directory = &catalog.PGDirectory{DB: a.DB}
	}

	var locker lock.Locker
	switch cfg.LockDriver {
	case config.DriverRedis:
		locker = lock.RedisLocker{R: a.Redis, RetryBackoff: cfg.LockRetryBackoff}
	default:
		locker = lock.NewLocalLocker()
	}

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: a.Logger}}}
	if a.DB != nil && cfg.StoreDriver == config.DriverPostgres {
		bus.Store = &events.PGStore{Pool: a.DB}
	}
	if cfg.EventsEnabled && a.Redis != nil {
		a.Tasks = asynq.NewClientFromRedisClient(a.Redis)
		a.closers = append(a.closers, a.Tasks.Close)
		bus.Notifiers = append(bus.Notifiers, queue.Notifier{Client: a.Tasks, Queue: queue.EventsQueue, MaxRetry: 10})
	}

	a.Quotes = &quote.Service{
		Store:     store,
		Catalog:   cat,
		Directory: directory,
		Locker:    locker,
		Events:    bus,
		Logger:    a.Logger.With().Str("component", "quote").Logger(),
		Options: quote.Options{
			EnforceDraftGuard:  cfg.QuoteEnforceDraftGuard,
			ZeroPriceOnMissing: cfg.PricingZeroOnMissing,
			OpTimeout:          cfg.QuoteOpTimeout,
			LockTTL:            cfg.LockTTL,
		},
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL)
	if err != nil {
		return err
	}
	a.Tokens = tokens

	switch cfg.RateLimitDriver {
	case config.DriverSliding:
		a.Limiter = ratelimit.SlidingWindow{Client: a.Redis, Prefix: "ratelimit:"}
	case config.DriverUlule:
		lim, err := ratelimit.NewUlule(a.Redis, "ratelimit-ulule")
		if err != nil {
			return err
		}
		a.Limiter = lim
	}
	return nil
}

func (a *App) priceCatalog() (pricing.Catalog, error) {
	cfg := a.Config
	var next pricing.Catalog
	switch cfg.CatalogDriver {
	case config.DriverHTTP:
		breaker := resilience.NewBreaker(cfg.Breaker.MinRequests, cfg.Breaker.FailureRate, cfg.Breaker.OpenFor).
			WithTarget("catalog").
			WithLogger(a.Logger)
		next = catalog.NewHTTPCatalog(catalog.HTTPConfig{
			BaseURL: cfg.CatalogBaseURL,
			Timeout: cfg.CatalogTimeout,
			Retry: resilience.RetryPolicy{
				Base:        cfg.Retry.Base,
				MaxAttempts: cfg.Retry.MaxAttempts,
				Jitter:      float64(cfg.Retry.JitterPercent) / 100,
			},
			Breaker: breaker,
		})
	default:
		if a.DB == nil {
			return nil, errors.New("postgres catalog requires DATABASE_URL")
		}
		next = &catalog.PGCatalog{DB: a.DB}
	}
	if cfg.CatalogCacheTTL > 0 && a.Redis != nil {
		return catalog.NewCached(next, catalog.NewCache(a.Redis, cfg.CatalogCacheTTL), a.Logger), nil
	}
	return next, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
