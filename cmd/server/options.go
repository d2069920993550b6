package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/genmux"
	"github.com/blueberrycongee/genmux/caches"
	"github.com/blueberrycongee/genmux/internal/archive"
	"github.com/blueberrycongee/genmux/internal/config"
	"github.com/blueberrycongee/genmux/internal/observability"
)

// buildClientOptions maps the service configuration onto client options.
func buildClientOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracer trace.Tracer) ([]genmux.Option, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	opts := []genmux.Option{
		genmux.WithLogger(logger),
		genmux.WithCacheTTL(cfg.Cache.DefaultTTL),
		genmux.WithCacheCleanup(cfg.Cache.CleanupInterval),
		genmux.WithMaxConcurrent(cfg.Queue.MaxConcurrent),
		genmux.WithMaxAttempts(cfg.Failover.MaxAttempts),
		genmux.WithStatusCooldown(cfg.Failover.StatusCooldown),
		genmux.WithHealthCheck(cfg.HealthCheck),
	}
	if tracer != nil {
		opts = append(opts, genmux.WithTracer(tracer))
	}

	for _, p := range cfg.EnabledProviders() {
		opts = append(opts, genmux.WithProvider(p.Descriptor(), p.AdapterConfig()))
		logger.Info("provider configured", "id", p.ID, "type", p.Type)
	}

	backend, err := caches.New(cfg.Cache.BackendConfig())
	if err != nil {
		return nil, fmt.Errorf("create cache backend: %w", err)
	}
	opts = append(opts, genmux.WithCache(backend))
	logger.Info("cache backend ready", "backend", cfg.Cache.Backend)

	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive, logger)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts = append(opts, genmux.WithArchive(a))
		logger.Info("image archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	if cfg.Alerts.Enabled {
		alerter, err := observability.NewSlackAlerter(cfg.Alerts)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts = append(opts, genmux.WithAlerter(alerter))
		logger.Info("slack alerts enabled")
	}

	return opts, nil
}
