package main

import (
	"log/slog"
	"sync"

	"github.com/blueberrycongee/genmux/internal/config"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

type statusSetter interface {
	SetProviderStatus(id string, status provider.Status) error
}

// statusReloader applies provider status overrides from a reloaded config.
// Everything else in the provider set is fixed for the life of the process.
type statusReloader struct {
	client statusSetter
	logger *slog.Logger

	mu       sync.Mutex
	statuses map[string]provider.Status
}

func newStatusReloader(client statusSetter, cfg *config.Config, logger *slog.Logger) *statusReloader {
	return &statusReloader{
		client:   client,
		logger:   logger,
		statuses: configuredStatuses(cfg),
	}
}

// Apply writes statuses that changed since the last applied config. A
// provider whose override was removed goes back online.
func (r *statusReloader) Apply(cfg *config.Config) {
	next := configuredStatuses(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, status := range next {
		if r.statuses[id] == status {
			continue
		}
		r.set(id, status)
	}
	for id := range r.statuses {
		if _, ok := next[id]; !ok {
			r.set(id, provider.StatusOnline)
		}
	}
	r.statuses = next
}

func (r *statusReloader) set(id string, status provider.Status) {
	if err := r.client.SetProviderStatus(id, status); err != nil {
		r.logger.Warn("status override ignored", "provider", id, "status", status, "error", err)
		return
	}
	r.logger.Info("provider status overridden", "provider", id, "status", status)
}

func configuredStatuses(cfg *config.Config) map[string]provider.Status {
	out := make(map[string]provider.Status)
	if cfg == nil {
		return out
	}
	for _, p := range cfg.EnabledProviders() {
		if p.Status != "" {
			out[p.ID] = p.Status
		}
	}
	return out
}
