// Package aggregator provides a composite adapter that races several
// best-effort backends and always produces an image.
//
// Backends run concurrently. A result is accepted in priority order: a
// lower-priority success is taken only once every higher-priority backend
// has failed. When all backends fail, the adapter returns a synthetic image
// derived from the prompt so the caller never sees a failure.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blueberrycongee/genmux/internal/imageutil"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider type.
	ProviderName = "aggregator"

	// SyntheticModelID is reported when every backend failed.
	SyntheticModelID = "synthetic"

	defaultBackendTimeout = 30 * time.Second
)

// Provider is the composite adapter.
type Provider struct {
	name     string
	backends []provider.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the aggregator.
type Option func(*Provider)

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// WithBackendTimeout bounds each backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger used for backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an aggregator over backends, highest priority first.
func New(backends []provider.Provider, opts ...Option) *Provider {
	p := &Provider{
		name:     ProviderName,
		backends: backends,
		timeout:  defaultBackendTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Ready always reports true; the synthetic fallback needs no backend.
func (p *Provider) Ready(context.Context) bool {
	return true
}

// Backends returns the number of configured backends.
func (p *Provider) Backends() int {
	return len(p.backends)
}

var errEmptyOutput = errors.New("backend returned no image")

// checkOutput rejects a backend success whose bytes are not a usable image,
// so the race moves on instead of handing failover an undecodable winner.
func checkOutput(out *provider.Output) error {
	if out == nil || len(out.Image) == 0 {
		return errEmptyOutput
	}
	if err := imageutil.Decodable(out.Image); err != nil {
		return fmt.Errorf("backend returned undecodable image: %w", err)
	}
	return nil
}

type outcome struct {
	index int
	out   *provider.Output
	err   error
}

// Generate races the backends. It returns an error only when ctx is done.
func (p *Provider) Generate(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.backends) > 0 {
		if out := p.race(ctx, in); out != nil {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return p.synthetic(in)
}

func (p *Provider) race(ctx context.Context, in *provider.Input) *provider.Output {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, len(p.backends))
	for i, b := range p.backends {
		go func(i int, b provider.Provider) {
			callCtx, callCancel := context.WithTimeout(raceCtx, p.timeout)
			defer callCancel()
			out, err := b.Generate(callCtx, in)
			results <- outcome{index: i, out: out, err: err}
		}(i, b)
	}

	done := make([]*outcome, len(p.backends))
	next := 0
	for received := 0; received < len(p.backends); received++ {
		var res outcome
		select {
		case res = <-results:
		case <-ctx.Done():
			return nil
		}
		if res.err == nil {
			res.err = checkOutput(res.out)
		}
		if res.err != nil {
			p.logger.Warn("aggregator backend failed",
				"aggregator", p.name,
				"backend", p.backends[res.index].Name(),
				"error", res.err,
			)
		}
		done[res.index] = &res

		for next < len(done) && done[next] != nil {
			if done[next].err == nil {
				return done[next].out
			}
			next++
		}
	}
	return nil
}

func (p *Provider) synthetic(in *provider.Input) (*provider.Output, error) {
	width, height := in.Params.Width, in.Params.Height
	if width <= 0 {
		width = imageutil.DefaultWidth
	}
	if height <= 0 {
		height = imageutil.DefaultHeight
	}
	img, err := imageutil.Synthetic(in.Prompt, width, height)
	if err != nil {
		return nil, err
	}
	p.logger.Info("aggregator served synthetic fallback", "aggregator", p.name, "backends", len(p.backends))
	return &provider.Output{
		Image:   img,
		Format:  "png",
		Width:   width,
		Height:  height,
		ModelID: SyntheticModelID,
		ActualParameters: map[string]any{
			"fallback": true,
		},
	}, nil
}
