package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/budget-api/internal/app"
	"github.com/noah-isme/budget-api/internal/config"
	"github.com/noah-isme/budget-api/internal/health"
	"github.com/noah-isme/budget-api/internal/obs"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(obs.LoggerConfig{Format: cfg.LogFormat, Level: cfg.LogLevel, Service: "budget-api"}).
		With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics("budget", prometheus.DefaultRegisterer)
	httpMetrics := obs.NewHTTPMetrics("budget", obs.ParseBucketsCSV(os.Getenv("OBS_METRICS_BUCKETS_MS")), prometheus.DefaultRegisterer)

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "budget-api",
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	shutdownMeter, err := obs.InitMeter(ctx, "budget-api", cfg.AppEnv, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise meter")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	a.Metrics = httpMetrics

	handler := a.Router()
	if user := strings.TrimSpace(os.Getenv("PPROF_BASIC_AUTH_USER")); user != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/pprof/", protectPprof(newPprofMux(), user, os.Getenv("PPROF_BASIC_AUTH_PASS")))
		mux.Handle("/", handler)
		handler = mux
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.QuoteOpTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.StoreDriver).
			Str("lock", cfg.LockDriver).
			Str("catalog", cfg.CatalogDriver).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	health.SetReady(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("close dependencies")
	}
	if err := shutdownMeter(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown meter")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown tracer")
	}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(strings.TrimSpace(pass))) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
