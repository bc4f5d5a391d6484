// Package main is the entry point for the inference gateway. It loads
// configuration, assembles the orchestration pipeline and middleware stack,
// starts the HTTP server, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dskow/inference-gateway/internal/admin"
	"github.com/dskow/inference-gateway/internal/auth"
	"github.com/dskow/inference-gateway/internal/cache"
	"github.com/dskow/inference-gateway/internal/circuitbreaker"
	"github.com/dskow/inference-gateway/internal/config"
	"github.com/dskow/inference-gateway/internal/generate"
	"github.com/dskow/inference-gateway/internal/health"
	"github.com/dskow/inference-gateway/internal/logging"
	"github.com/dskow/inference-gateway/internal/metrics"
	"github.com/dskow/inference-gateway/internal/middleware"
	"github.com/dskow/inference-gateway/internal/provider"
	"github.com/dskow/inference-gateway/internal/ratelimit"
	"github.com/dskow/inference-gateway/internal/tlsutil"
	"github.com/dskow/inference-gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logOut, closeLog, err := openLogOutput(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to open log output", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: slog.LevelInfo}))

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"provider", cfg.Upstream.Provider,
		"latency_budget", cfg.Upstream.LatencyBudget,
		"breaker_window", cfg.Breaker.Window,
		"cache_ttl", cfg.Cache.TTL,
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Assemble the orchestration pipeline: provider, breaker, retrying
	// caller, cache, recorder, orchestrator.
	prov, err := buildProvider(cfg.Upstream)
	if err != nil {
		logger.Error("failed to build upstream provider", "error", err)
		os.Exit(1)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Window:           cfg.Breaker.Window,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinCalls:         cfg.Breaker.MinCalls,
		HalfOpenAfter:    cfg.Breaker.HalfOpenAfter,
	}, logger)

	caller := upstream.New(prov, breaker, upstream.Config{
		CallTimeout:      cfg.Upstream.CallTimeout,
		MaxRetryAttempts: cfg.Upstream.Retries(),
		BackoffBase:      cfg.Upstream.BackoffBase,
	}, logger)

	responseCache := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	recorder := metrics.NewRecorder(metrics.DefaultMaxSamples)
	orch := generate.New(caller, responseCache, recorder, cfg.Upstream.LatencyBudget, logger)
	apiHandler := generate.NewHandler(orch, recorder, cfg.Upstream.MaxPromptChars, logger)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	// Only the generation endpoint requires a token; the metrics snapshot
	// stays open for dashboards.
	pathRequiresAuth := func(path string) bool {
		return path == "/v1/generate"
	}

	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	// Middleware stack: Recovery -> RequestID -> Logging -> BodyLimit ->
	// RateLimit -> Auth -> API
	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, pathRequiresAuth, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Health, metrics, and admin endpoints bypass the middleware stack.
	sideMux := http.NewServeMux()
	healthHandler := health.New(breaker)
	healthHandler.RegisterRoutes(sideMux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		sideMux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	reloader := config.NewReloader(*configPath, cfg, logger)

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, breaker, responseCache, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(sideMux)
		logger.Info("admin API registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") ||
			strings.HasPrefix(r.URL.Path, "/ready") ||
			strings.HasPrefix(r.URL.Path, "/admin/") ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			sideMux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()

		minVersion := uint16(tls.VersionTLS12)
		if cfg.Server.TLS.MinVersion == "1.3" {
			minVersion = tls.VersionTLS13
		}
		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     minVersion,
		}
	}

	go func() {
		logger.Info("starting inference gateway", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	healthHandler.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// Flip readiness first so load balancers drain before the listener stops.
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("inference gateway stopped gracefully")
}

// buildProvider constructs the configured upstream provider.
func buildProvider(cfg config.UpstreamConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return provider.NewMock(provider.DefaultMockConfig()), nil
	case "http":
		return provider.NewHTTP(cfg.URL, nil), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// openLogOutput resolves the configured log destination. File outputs get
// size-based rotation.
func openLogOutput(cfg config.LoggingConfig) (io.Writer, func(), error) {
	switch cfg.Output {
	case "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		rw, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		return rw, func() { rw.Close() }, nil
	}
}
