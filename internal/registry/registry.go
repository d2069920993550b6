// Package registry holds the provider descriptors known at startup and their
// observed status, and selects a provider for each dispatch.
package registry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/internal/resilience"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

// DefaultCooldown is how long a failure-observed status holds before the
// provider is eligible again.
const DefaultCooldown = time.Minute

type observation struct {
	status provider.Status
	at     time.Time
	// until is set for failure observations; at or after it the provider
	// reads as online again.
	until time.Time
}

type entry struct {
	desc   provider.Descriptor
	order  int
	gate   *resilience.Gate
	status atomic.Pointer[observation]
}

// StatusListener is notified after a status write changes the status.
type StatusListener func(id string, status provider.Status)

// Registry is populated once and never rebuilt. Only status changes at runtime;
// concurrent writers follow last-write-wins.
type Registry struct {
	entries  map[string]*entry
	order    []*entry
	clock    clock.Clock
	listener StatusListener
	cooldown time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used to stamp status observations.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithCooldown sets how long statuses recorded by Observe last. Zero makes
// them hold until the next write.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithStatusListener registers a callback for status transitions.
func WithStatusListener(fn StatusListener) Option {
	return func(r *Registry) { r.listener = fn }
}

// New builds a registry from descriptors in registration order. A descriptor
// without status starts online.
func New(descs []provider.Descriptor, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:  make(map[string]*entry, len(descs)),
		order:    make([]*entry, 0, len(descs)),
		clock:    clock.New(),
		cooldown: DefaultCooldown,
	}
	for _, opt := range opts {
		opt(r)
	}

	now := r.clock.Now()
	for i, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor %d has no id", i)
		}
		if _, dup := r.entries[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", d.ID)
		}
		status := d.Status
		if status == "" {
			status = provider.StatusOnline
		}
		if !status.Valid() {
			return nil, fmt.Errorf("provider %q has unknown status %q", d.ID, status)
		}
		if d.DisplayName == "" {
			d.DisplayName = d.ID
		}

		e := &entry{desc: d, order: i, gate: resilience.NewGate(d.RateLimits)}
		e.status.Store(&observation{status: status, at: now})
		r.entries[d.ID] = e
		r.order = append(r.order, e)
	}
	return r, nil
}

// Describe returns the descriptor for id with its current status.
func (r *Registry) Describe(id string) (provider.Descriptor, bool) {
	e, ok := r.entries[id]
	if !ok {
		return provider.Descriptor{}, false
	}
	return r.snapshot(e), true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []provider.Descriptor {
	out := make([]provider.Descriptor, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, r.snapshot(e))
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// Status returns the last observed status of id.
func (r *Registry) Status(id string) (provider.Status, bool) {
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return r.current(e).status, true
}

// SetStatus records a status for id that holds until the next write.
func (r *Registry) SetStatus(id string, status provider.Status) error {
	return r.write(id, status, false)
}

// Observe records a status inferred from a failed dispatch. It lapses back
// to online after the cooldown unless another write replaces it first.
func (r *Registry) Observe(id string, status provider.Status) error {
	return r.write(id, status, r.cooldown > 0)
}

func (r *Registry) write(id string, status provider.Status, expires bool) error {
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	now := r.clock.Now()
	obs := &observation{status: status, at: now}
	if expires && status != provider.StatusOnline {
		obs.until = now.Add(r.cooldown)
	}
	prev := r.current(e)
	e.status.Store(obs)
	if r.listener != nil && prev.status != status {
		r.listener(id, status)
	}
	return nil
}

// current returns the effective observation of e, replacing a lapsed
// failure observation with online. Only the writer that wins the swap
// notifies the listener.
func (r *Registry) current(e *entry) *observation {
	obs := e.status.Load()
	if obs.until.IsZero() {
		return obs
	}
	now := r.clock.Now()
	if now.Before(obs.until) {
		return obs
	}
	online := &observation{status: provider.StatusOnline, at: obs.until}
	if !e.status.CompareAndSwap(obs, online) {
		return e.status.Load()
	}
	if r.listener != nil {
		r.listener(e.desc.ID, provider.StatusOnline)
	}
	return online
}

// Gate returns the admission gate of id.
func (r *Registry) Gate(id string) *resilience.Gate {
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	return e.gate
}

func (r *Registry) snapshot(e *entry) provider.Descriptor {
	d := e.desc
	obs := r.current(e)
	d.Status = obs.status
	d.StatusUpdatedAt = obs.at
	return d
}
