package genmux

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/genmux/internal/cache"
	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/internal/failover"
	"github.com/blueberrycongee/genmux/internal/healthcheck"
	"github.com/blueberrycongee/genmux/internal/queue"
	"github.com/blueberrycongee/genmux/internal/registry"
	pkgcache "github.com/blueberrycongee/genmux/pkg/cache"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

// ClientConfig holds all configuration for the genmux client.
type ClientConfig struct {
	// Providers configured by adapter type, in registration order.
	Providers []providerSpec

	// Caching
	CacheBackend         pkgcache.Backend // nil selects an in-memory backend
	Cache                cache.Config
	CacheCleanupInterval time.Duration
	FingerprintPrefix    string

	// Queue and failover
	MaxConcurrent int
	MaxAttempts   int

	// ResultTTL is how long finished results stay pollable.
	ResultTTL time.Duration

	// Health probing
	HealthCheck healthcheck.Config

	// StatusCooldown is how long a provider marked offline or rate limited
	// by a failed dispatch stays out of selection. Zero keeps it out until a
	// probe or an explicit status write.
	StatusCooldown time.Duration

	// Observability
	Logger *slog.Logger
	Tracer trace.Tracer // nil uses the global provider

	// Archive receives successful generations when set.
	Archive Archiver

	// Alerter is notified of failures and provider transitions when set.
	Alerter Alerter

	// Clock stamps results and cache entries.
	Clock clock.Clock
}

// providerSpec pairs a descriptor with either a ready adapter or the settings
// to build one.
type providerSpec struct {
	Descriptor provider.Descriptor
	Config     provider.Config
	Instance   provider.Provider
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Cache:                cache.DefaultConfig(),
		CacheCleanupInterval: 10 * time.Minute,
		MaxConcurrent:        queue.DefaultMaxConcurrent,
		MaxAttempts:          failover.DefaultMaxAttempts,
		ResultTTL:            time.Hour,
		HealthCheck:          healthcheck.DefaultConfig(),
		StatusCooldown:       registry.DefaultCooldown,
		Logger:               slog.Default(),
		Clock:                clock.New(),
	}
}

// WithProvider registers a provider whose adapter is built from cfg.Type.
//
// Example:
//
//	genmux.WithProvider(genmux.ProviderDescriptor{
//	    ID:      "dalle",
//	    Pricing: genmux.Pricing{CostPerGeneration: 0.04},
//	}, genmux.ProviderConfig{Type: "openai-image", APIKey: os.Getenv("OPENAI_API_KEY")})
func WithProvider(desc provider.Descriptor, cfg provider.Config) Option {
	return func(c *ClientConfig) {
		if cfg.Name == "" {
			cfg.Name = desc.ID
		}
		if desc.Type == "" {
			desc.Type = cfg.Type
		}
		c.Providers = append(c.Providers, providerSpec{Descriptor: desc, Config: cfg})
	}
}

// WithProviderInstance registers a pre-built adapter.
func WithProviderInstance(desc provider.Descriptor, prov provider.Provider) Option {
	return func(c *ClientConfig) {
		c.Providers = append(c.Providers, providerSpec{Descriptor: desc, Instance: prov})
	}
}

// WithCache sets the cache backend (memory or redis from the caches package).
func WithCache(backend pkgcache.Backend) Option {
	return func(c *ClientConfig) {
		c.CacheBackend = backend
	}
}

// WithCacheTTL sets the default entry TTL used when a request has none.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		if ttl > 0 {
			c.Cache.DefaultTTL = ttl
		}
	}
}

// WithCacheCleanup sets the sweep interval. Zero disables the sweeper.
func WithCacheCleanup(interval time.Duration) Option {
	return func(c *ClientConfig) {
		c.CacheCleanupInterval = interval
	}
}

// WithFingerprintPrefix namespaces fingerprints, e.g. per deployment.
func WithFingerprintPrefix(prefix string) Option {
	return func(c *ClientConfig) {
		c.FingerprintPrefix = prefix
	}
}

// WithMaxConcurrent bounds simultaneous in-flight generations.
func WithMaxConcurrent(n int) Option {
	return func(c *ClientConfig) {
		c.MaxConcurrent = n
	}
}

// WithMaxAttempts bounds providers tried per request.
func WithMaxAttempts(n int) Option {
	return func(c *ClientConfig) {
		c.MaxAttempts = n
	}
}

// WithResultTTL sets how long finished results remain pollable.
func WithResultTTL(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		if ttl > 0 {
			c.ResultTTL = ttl
		}
	}
}

// WithHealthCheck replaces the probe settings. Probing is on by default;
// pass a config with Enabled false to turn it off.
func WithHealthCheck(cfg healthcheck.Config) Option {
	return func(c *ClientConfig) {
		c.HealthCheck = cfg
	}
}

// WithStatusCooldown sets how long failure-observed statuses hold.
func WithStatusCooldown(d time.Duration) Option {
	return func(c *ClientConfig) {
		if d >= 0 {
			c.StatusCooldown = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithClock sets the clock. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *ClientConfig) {
		if clk != nil {
			c.Clock = clk
		}
	}
}

// WithTracer sets the tracer for generation and provider attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *ClientConfig) {
		c.Tracer = tracer
	}
}

// WithArchive copies every successful generation to archive.
func WithArchive(archive Archiver) Option {
	return func(c *ClientConfig) {
		c.Archive = archive
	}
}

// WithAlerter sets where failure and provider status alerts are sent.
func WithAlerter(alerter Alerter) Option {
	return func(c *ClientConfig) {
		c.Alerter = alerter
	}
}
