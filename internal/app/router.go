package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/budget-api/internal/auth"
	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/health"
	"github.com/noah-isme/budget-api/internal/obs"
	"github.com/noah-isme/budget-api/internal/quote"
	"github.com/noah-isme/budget-api/internal/ratelimit"
	"github.com/noah-isme/budget-api/internal/security"
)

// Router assembles the HTTP surface: health and metrics at the root, quote
// endpoints under /api/v1 behind bearer authentication.
func (a *App) Router() http.Handler {
	cfg := a.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.TracingMiddleware)
	if a.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: a.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: a.Logger}.Middleware)
	r.Use(obs.Recoverer)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: true}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	deps := health.Deps{DB: a.DB}
	if a.Redis != nil {
		deps.Redis = a.Redis
	}
	healthHandler := health.Handler{Checker: deps}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	quotes := &quote.Handler{Svc: a.Quotes, Currency: cfg.CurrencyCode}
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(auth.Middleware{Tokens: a.Tokens}.RequireAuth)
		v.Use(ratelimit.Handler{
			Limiter: a.Limiter,
			Config:  ratelimit.Config{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
			OnError: func(err error) { a.Logger.Warn().Err(err).Msg("rate limiter unavailable") },
		}.Middleware)
		v.Use(security.RequireJSON)
		quotes.Routes(v, a.idempotency())
	})
	return r
}

func (a *App) idempotency() func(http.Handler) http.Handler {
	if a.Redis == nil {
		return nil
	}
	return common.Idem{R: a.Redis, TTL: a.Config.IdempotencyTTL}.Middleware
}
