// Package healthcheck provides proactive provider probing.
package healthcheck

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Config controls the proactive health checker behavior.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns probing enabled at the default interval.
func DefaultConfig() Config {
	return Config{Enabled: true, Interval: defaultProbeInterval, Timeout: defaultProbeTimeout}
}

// Result is the outcome of one probe.
type Result struct {
	Provider string          `json:"provider"`
	Ready    bool            `json:"ready"`
	Status   provider.Status `json:"status"`
	Latency  time.Duration   `json:"latency"`
}

// Prober periodically checks adapter liveness and records the observed
// status in the registry. Probes are cheap readiness checks, never a
// generation round-trip.
type Prober struct {
	cfg      Config
	registry *registry.Registry
	adapters map[string]provider.Provider
	logger   *slog.Logger
	started  atomic.Bool
}

// NewProber creates a new health checker.
func NewProber(cfg Config, reg *registry.Registry, adapters map[string]provider.Provider, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		cfg:      cfg,
		registry: reg,
		adapters: adapters,
		logger:   logger,
	}
}

// Start begins the probe loop until the context is canceled.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

func (p *Prober) runOnce(ctx context.Context) {
	for _, d := range p.registry.List() {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.Check(ctx, d.ID); err != nil {
			p.logger.Warn("healthcheck probe skipped", "provider", d.ID, "error", err)
		}
	}
}

// Check probes one provider. A negative result marks it offline; a positive
// result brings an offline or rate-limited provider back online. Providers in
// maintenance are reported but never changed.
func (p *Prober) Check(ctx context.Context, id string) (Result, error) {
	status, ok := p.registry.Status(id)
	if !ok {
		return Result{}, genErrors.NewNotFoundError("unknown provider: " + id)
	}
	adapter, ok := p.adapters[id]
	if !ok {
		return Result{}, genErrors.NewNotFoundError("no adapter registered for provider: " + id)
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	ready := adapter.Ready(probeCtx)
	res := Result{Provider: id, Ready: ready, Status: status, Latency: time.Since(start)}

	if status == provider.StatusMaintenance {
		return res, nil
	}

	next := status
	switch {
	case !ready:
		next = provider.StatusOffline
	case status == provider.StatusOffline || status == provider.StatusRateLimited:
		next = provider.StatusOnline
	}
	if next == status {
		return res, nil
	}

	if err := p.registry.SetStatus(id, next); err != nil {
		return res, err
	}
	res.Status = next
	if ready {
		p.logger.Info("healthcheck provider recovered", "provider", id, "previous", status)
	} else {
		p.logger.Warn("healthcheck probe failed", "provider", id, "previous", status)
	}
	return res, nil
}
