// Package mock provides a deterministic in-process provider for tests and
// local development. Its output is a synthetic image derived from the prompt.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/genmux/internal/imageutil"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

// ProviderName is the identifier for this provider type.
const ProviderName = "mock"

// ModelID is reported on every successful output.
const ModelID = "mock-v1"

// Provider is a scriptable adapter. Zero value is not usable; use New.
type Provider struct {
	name    string
	latency time.Duration
	ready   atomic.Bool
	calls   atomic.Int64

	mu       sync.Mutex
	failures []error
	always   error
	block    chan struct{}
}

// Option configures the mock provider.
type Option func(*Provider)

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLatency delays every call by d.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

// WithFailures makes the next calls fail with errs, in order.
func WithFailures(errs ...error) Option {
	return func(p *Provider) {
		p.failures = append(p.failures, errs...)
	}
}

// WithAlwaysFail makes every call fail with err.
func WithAlwaysFail(err error) Option {
	return func(p *Provider) {
		p.always = err
	}
}

// WithBlock makes every call wait until ch is closed or the context ends.
func WithBlock(ch chan struct{}) Option {
	return func(p *Provider) {
		p.block = ch
	}
}

// New creates a mock provider.
func New(opts ...Option) *Provider {
	p := &Provider{name: ProviderName}
	for _, opt := range opts {
		opt(p)
	}
	p.ready.Store(true)
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(WithName(cfg.Name), WithLatency(cfg.Timeout/10)), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Generate returns a synthetic image unless a failure is scripted.
func (p *Provider) Generate(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	p.calls.Add(1)

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := p.nextFailure(); err != nil {
		return nil, err
	}

	img, err := imageutil.Synthetic(in.Prompt, in.Params.Width, in.Params.Height)
	if err != nil {
		return nil, err
	}
	w, h := in.Params.Width, in.Params.Height
	if w <= 0 {
		w = imageutil.DefaultWidth
	}
	if h <= 0 {
		h = imageutil.DefaultHeight
	}
	return &provider.Output{
		Image:   img,
		Format:  "png",
		Width:   w,
		Height:  h,
		ModelID: ModelID,
		ActualParameters: map[string]any{
			"steps":    in.Params.Steps,
			"guidance": in.Params.Guidance,
			"seed":     in.Params.Seed,
		},
	}, nil
}

func (p *Provider) nextFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return err
	}
	return p.always
}

// Ready reports the configured readiness.
func (p *Provider) Ready(context.Context) bool {
	return p.ready.Load()
}

// SetReady toggles readiness.
func (p *Provider) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Calls returns the number of Generate calls so far.
func (p *Provider) Calls() int64 {
	return p.calls.Load()
}
