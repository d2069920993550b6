// Package providers provides a unified registry for all genmux adapter
// implementations. It allows automatic adapter creation from configuration.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/providers/aggregator"
	"github.com/blueberrycongee/genmux/providers/mock"
	"github.com/blueberrycongee/genmux/providers/openaiimage"
	"github.com/blueberrycongee/genmux/providers/sdwebui"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}

	return factory(cfg)
}

// List returns all registered provider type names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newAggregator builds the composite adapter, creating each backend through
// the registry.
func newAggregator(cfg provider.Config) (provider.Provider, error) {
	backends := make([]provider.Provider, 0, len(cfg.Backends))
	for i, bc := range cfg.Backends {
		if bc.Type == aggregator.ProviderName {
			return nil, fmt.Errorf("aggregator backend %d: nested aggregators are not supported", i)
		}
		if bc.Name == "" {
			bc.Name = fmt.Sprintf("%s-%d", cfg.Name, i)
		}
		b, err := Create(bc)
		if err != nil {
			return nil, fmt.Errorf("aggregator backend %d: %w", i, err)
		}
		backends = append(backends, b)
	}
	return aggregator.New(backends,
		aggregator.WithName(cfg.Name),
		aggregator.WithBackendTimeout(cfg.Timeout),
	), nil
}

// RegisterBuiltins registers all built-in provider factories.
// This is called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register(mock.ProviderName, mock.NewFromConfig)
		Register(sdwebui.ProviderName, sdwebui.NewFromConfig)
		Register(openaiimage.ProviderName, openaiimage.NewFromConfig)
		Register(aggregator.ProviderName, newAggregator)
	})
}

func init() {
	RegisterBuiltins()
}
