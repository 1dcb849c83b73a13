// Package app wires the study assistant's components together and manages
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tutorly/config"
	"tutorly/internal/cache"
	"tutorly/internal/notes"
	"tutorly/internal/observability"
	"tutorly/internal/providers"
	"tutorly/internal/server"
	"tutorly/internal/transcribe"
	"tutorly/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	usage     *usage.Result
	summaries cache.Cache
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	// Metrics must exist before the fan-out client and transcriber so their
	// hooks can be attached.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.New(prometheus.DefaultRegisterer)
	}

	specs, err := providers.ResolveCatalog(cfg.Providers.CatalogFile, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider catalog: %w", err)
	}

	var hooks providers.Hooks
	if metrics != nil {
		hooks = metrics
	}
	generator := providers.NewClient(nil, hooks)
	composer := notes.NewComposer(generator, specs)

	transcriber := transcribe.New(cfg.Transcribe.AssemblyAIKey, transcribe.Options{
		PollInterval: cfg.Transcribe.PollInterval,
		MaxAttempts:  cfg.Transcribe.MaxPollAttempts,
	})
	if metrics != nil {
		transcriber.SetPollObserver(metrics.PollObserver())
	}

	summaries, err := newSummaryCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize summary cache: %w", err)
	}
	app.summaries = summaries

	usageResult, err := usage.New(ctx, cfg)
	if err != nil {
		closeErr := summaries.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize usage tracking: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize usage tracking: %w", err)
	}
	app.usage = usageResult

	app.logStartupInfo(specs)

	handler := server.NewHandler(server.Deps{
		Generator:   generator,
		Specs:       specs,
		Composer:    composer,
		Transcriber: transcriber,
		Summaries:   summaries,
		Usage:       usageResult.Logger,
	})

	app.server = server.New(handler, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		Metrics:         metrics,
	})

	return app, nil
}

// newSummaryCache creates the configured cache backend.
func newSummaryCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemoryCache(cfg.TTL), nil
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.RedisURL,
			TTL: cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid: memory, redis)", cfg.Backend)
	}
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server stops accepting requests first, then the usage logger
// flushes its buffer, then the cache connection closes.
//
// Shutdown is idempotent and safe for repeated calls.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if a.summaries != nil {
		if err := a.summaries.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(specs []providers.Spec) {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set MASTER_KEY environment variable to secure this service")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if len(specs) == 0 {
		slog.Warn("no generation provider has a configured credential - AI routes will fail",
			"recommendation", "set at least one of GEMINI_API_KEY, GROQ_API_KEY, TOGETHER_API_KEY, OPENROUTER_API_KEY, ANTHROPIC_API_KEY, HF_API_KEY")
	} else {
		names := make([]string, 0, len(specs))
		for _, s := range specs {
			names = append(names, s.Name)
		}
		slog.Info("provider chain configured", "order", names)
	}

	if cfg.Transcribe.AssemblyAIKey == "" {
		slog.Warn("ASSEMBLYAI_API_KEY not set - transcription routes will fail")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("summary cache configured", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)
	slog.Info("storage configured", "type", cfg.Storage.Type)

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}
}
