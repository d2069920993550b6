// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/genmux/caches"
	"github.com/blueberrycongee/genmux/caches/memory"
	"github.com/blueberrycongee/genmux/caches/redis"
	"github.com/blueberrycongee/genmux/internal/archive"
	"github.com/blueberrycongee/genmux/internal/failover"
	"github.com/blueberrycongee/genmux/internal/healthcheck"
	"github.com/blueberrycongee/genmux/internal/observability"
	"github.com/blueberrycongee/genmux/internal/queue"
	"github.com/blueberrycongee/genmux/internal/registry"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

// Config represents the complete service configuration.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Providers   []ProviderConfig            `yaml:"providers"`
	Cache       CacheConfig                 `yaml:"cache"`
	Queue       queue.Config                `yaml:"queue"`
	Failover    FailoverConfig              `yaml:"failover"`
	HealthCheck healthcheck.Config          `yaml:"healthcheck"`
	Logging     LoggingConfig               `yaml:"logging"`
	Metrics     MetricsConfig               `yaml:"metrics"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
	Alerts      observability.SlackConfig   `yaml:"alerts"`
	Archive     archive.Config              `yaml:"archive"`
	CORS        CORSConfig                  `yaml:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// ProviderConfig defines a single provider: its registry descriptor plus the
// adapter settings.
type ProviderConfig struct {
	ID           string                `yaml:"id"`
	Type         string                `yaml:"type"`
	DisplayName  string                `yaml:"display_name"`
	Enabled      *bool                 `yaml:"enabled"`
	BaseURL      string                `yaml:"base_url"`
	APIKey       string                `yaml:"api_key"`
	Model        string                `yaml:"model"`
	Timeout      time.Duration         `yaml:"timeout"`
	Headers      map[string]string     `yaml:"headers"`
	Status       provider.Status       `yaml:"status"`
	Capabilities provider.Capabilities `yaml:"capabilities"`
	Pricing      provider.Pricing      `yaml:"pricing"`
	RateLimits   provider.RateLimits   `yaml:"rate_limits"`
	Backends     []BackendConfig       `yaml:"backends"`
}

// BackendConfig is a member of a composite provider.
type BackendConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Model   string            `yaml:"model"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// CacheConfig selects the entry store backend.
type CacheConfig struct {
	Backend         caches.Type   `yaml:"backend"` // memory, redis
	Redis           redis.Config  `yaml:"redis"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxEntrySize    int           `yaml:"max_entry_size"`
}

// FailoverConfig bounds provider attempts per request and how long a failed
// provider sits out.
type FailoverConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	StatusCooldown time.Duration `yaml:"status_cooldown"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CORSConfig contains browser cross-origin settings for the HTTP API.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	MaxAge           time.Duration `yaml:"max_age"`
	Origins          CORSOrigins   `yaml:"origins"`
}

// CORSOrigins lists allowed and denied origins. Entries are exact origins or
// "scheme://*.domain" subdomain wildcards; a denylist entry of "*" denies
// every origin.
type CORSOrigins struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Cache: CacheConfig{
			Backend:         caches.TypeMemory,
			Redis:           redis.DefaultConfig(),
			DefaultTTL:      24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			MaxEntrySize:    16 << 20,
		},
		Queue: queue.Config{
			MaxConcurrent: queue.DefaultMaxConcurrent,
		},
		Failover: FailoverConfig{
			MaxAttempts:    failover.DefaultMaxAttempts,
			StatusCooldown: registry.DefaultCooldown,
		},
		HealthCheck: healthcheck.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: observability.DefaultTracingConfig(),
		Alerts:  observability.DefaultSlackConfig(),
		Archive: archive.Config{
			Prefix:  "generations",
			Timeout: 30 * time.Second,
		},
		CORS: CORSConfig{
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders: []string{"Location", "X-Request-ID"},
			MaxAge:        10 * time.Minute,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Providers, validation.Required),
		validation.Field(&c.Cache),
		validation.Field(&c.Logging),
		validation.Field(&c.Tracing, validation.By(validTracing)),
		validation.Field(&c.Alerts, validation.By(validAlerts)),
		validation.Field(&c.Archive, validation.By(validArchive)),
	)
	if err != nil {
		return err
	}
	if c.Queue.MaxConcurrent < 0 {
		return fmt.Errorf("queue.max_concurrent cannot be negative")
	}
	if c.Failover.MaxAttempts < 0 {
		return fmt.Errorf("failover.max_attempts cannot be negative")
	}
	if c.Failover.StatusCooldown < 0 {
		return fmt.Errorf("failover.status_cooldown cannot be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	enabled := 0
	for i, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	return nil
}

// Validate implements validation.Validatable.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.MaxBodyBytes, validation.Min(int64(0))),
	)
}

// Validate implements validation.Validatable.
func (p ProviderConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Type, validation.Required),
		validation.Field(&p.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&p.Status, validation.In(
			provider.StatusOnline, provider.StatusOffline,
			provider.StatusMaintenance, provider.StatusRateLimited,
		)),
		validation.Field(&p.Pricing, validation.By(nonNegativePrice)),
		validation.Field(&p.Backends, validation.When(p.Type == "aggregator", validation.Required)),
	)
}

func nonNegativePrice(value any) error {
	if p, ok := value.(provider.Pricing); ok && (p.CostPerGeneration < 0 || p.FreeQuota < 0) {
		return fmt.Errorf("cost_per_generation and free_quota cannot be negative")
	}
	return nil
}

// Validate implements validation.Validatable.
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Type, validation.Required, validation.NotIn("aggregator")),
	)
}

// Validate implements validation.Validatable.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.In(caches.TypeMemory, caches.TypeRedis)),
		validation.Field(&c.DefaultTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.CleanupInterval, validation.Min(time.Duration(0))),
	)
}

func validTracing(value any) error {
	t, ok := value.(observability.TracingConfig)
	if !ok || !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1")
	}
	return nil
}

func validAlerts(value any) error {
	if a, ok := value.(observability.SlackConfig); ok && a.Enabled && a.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required when alerts are enabled")
	}
	return nil
}

func validArchive(value any) error {
	if a, ok := value.(archive.Config); ok && a.Enabled && a.Bucket == "" {
		return fmt.Errorf("bucket is required when archive is enabled")
	}
	return nil
}

// Validate implements validation.Validatable.
func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "text")),
	)
}

// IsEnabled reports whether the provider is enabled. Providers are enabled
// unless explicitly disabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Descriptor returns the registry record for the provider.
func (p ProviderConfig) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Type:         p.Type,
		Capabilities: p.Capabilities,
		Pricing:      p.Pricing,
		RateLimits:   p.RateLimits,
		Status:       p.Status,
	}
}

// AdapterConfig returns the adapter construction settings.
func (p ProviderConfig) AdapterConfig() provider.Config {
	cfg := provider.Config{
		Name:    p.ID,
		Type:    p.Type,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Timeout: p.Timeout,
		Headers: p.Headers,
	}
	for _, b := range p.Backends {
		cfg.Backends = append(cfg.Backends, provider.Config{
			Name:    b.Name,
			Type:    b.Type,
			APIKey:  b.APIKey,
			BaseURL: b.BaseURL,
			Model:   b.Model,
			Timeout: b.Timeout,
			Headers: b.Headers,
		})
	}
	return cfg
}

// BackendConfig returns the cache backend settings.
func (c CacheConfig) BackendConfig() caches.Config {
	mem := memory.DefaultConfig()
	if c.MaxEntrySize > 0 {
		mem.MaxItemSize = c.MaxEntrySize
	}
	return caches.Config{
		Type:   c.Backend,
		Memory: mem,
		Redis:  c.Redis,
	}
}

// EnabledProviders returns the enabled providers in declaration order.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}
