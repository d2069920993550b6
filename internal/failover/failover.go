// Package failover dispatches a request to the best provider and moves on to
// the next candidate when an adapter fails, up to a fixed number of attempts.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/internal/imageutil"
	"github.com/blueberrycongee/genmux/internal/observability"
	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// DefaultMaxAttempts bounds dispatches per request.
const DefaultMaxAttempts = 3

// AttemptHook observes every dispatch. code is empty on success.
type AttemptHook func(providerID, code string, elapsed time.Duration)

// Outcome is a successful, normalized generation.
type Outcome struct {
	Payload  types.Payload
	Metadata types.ResultMetadata
}

// Controller runs the select, dispatch and failover loop.
type Controller struct {
	registry    *registry.Registry
	adapters    map[string]provider.Provider
	maxAttempts int
	clock       clock.Clock
	logger      *slog.Logger
	hook        AttemptHook
	tracer      trace.Tracer
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithClock sets the clock used for processing time.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAttemptHook registers an observer for dispatch attempts.
func WithAttemptHook(hook AttemptHook) Option {
	return func(c *Controller) {
		c.hook = hook
	}
}

// WithTracer sets the tracer for provider attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// New creates a controller. adapters is keyed by provider id.
func New(reg *registry.Registry, adapters map[string]provider.Provider, opts ...Option) *Controller {
	c := &Controller{
		registry:    reg,
		adapters:    adapters,
		maxAttempts: DefaultMaxAttempts,
		clock:       clock.New(),
		logger:      slog.Default(),
		tracer:      otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAttempts returns the configured attempt bound.
func (c *Controller) MaxAttempts() int {
	return c.maxAttempts
}

// Run selects and dispatches until one provider succeeds. Each provider is
// tried at most once. Request-scoped failures end the loop immediately; any
// other exhaustion is reported as ExhaustedFailover.
func (c *Controller) Run(ctx context.Context, req *types.GenerationRequest) (*Outcome, error) {
	start := c.clock.Now()
	filter := provider.FilterFor(req)

	var (
		excluded []string
		lastErr  *genErrors.GenerationError
		attempts int
	)
	for attempts < c.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, genErrors.Wrap("", err)
		}

		id, ok := c.registry.SelectBestProvider(filter, req.MaxCost, req.Provider, excluded...)
		if !ok {
			break
		}
		excluded = append(excluded, id)

		adapter, ok := c.adapters[id]
		if !ok {
			lastErr = genErrors.NewInternalError(id, "no adapter registered for provider")
			continue
		}
		release, ok := c.registry.Gate(id).Acquire()
		if !ok {
			lastErr = genErrors.NewRateLimitError(id, "local rate limit reached")
			continue
		}

		attempts++
		outcome, genErr := c.attempt(ctx, id, attempts, adapter, req)
		release()
		if genErr == nil {
			outcome.Metadata.Attempts = attempts
			outcome.Metadata.ProcessingTime = c.clock.Now().Sub(start)
			return outcome, nil
		}

		if ctx.Err() != nil {
			return nil, genErrors.Wrap(id, ctx.Err())
		}
		lastErr = genErr
		c.observe(id, genErr)

		if genErrors.IsRequestScoped(genErr.Code) {
			c.logger.InfoContext(ctx, "request rejected by provider",
				"provider", id,
				"code", genErr.Code,
				"error", genErr.Message,
			)
			return nil, genErr
		}
		c.logger.WarnContext(ctx, "provider dispatch failed, trying next candidate",
			"provider", id,
			"attempt", attempts,
			"code", genErr.Code,
			"error", genErr.Message,
		)
	}

	return nil, genErrors.NewExhaustedFailoverError(lastErr, attempts)
}

func (c *Controller) attempt(
	ctx context.Context,
	id string,
	n int,
	adapter provider.Provider,
	req *types.GenerationRequest,
) (*Outcome, *genErrors.GenerationError) {
	ctx, span := observability.StartAttemptSpan(ctx, c.tracer, id, n)
	defer span.End()

	started := c.clock.Now()
	out, err := adapter.Generate(ctx, provider.InputFrom(req))
	var genErr *genErrors.GenerationError
	if err != nil {
		genErr = genErrors.Wrap(id, err)
	} else if out == nil || len(out.Image) == 0 {
		genErr = genErrors.NewServiceUnavailableError(id, "adapter returned no image")
	}

	var outcome *Outcome
	if genErr == nil {
		outcome, genErr = c.finish(id, out, req)
	}

	code := ""
	if genErr != nil {
		code = genErr.Code
		observability.RecordError(span, code, genErr)
	}
	if c.hook != nil {
		c.hook(id, code, c.clock.Now().Sub(started))
	}
	return outcome, genErr
}

// finish normalizes the adapter output against the provider's declared
// resolution and scores it against the requested size.
func (c *Controller) finish(id string, out *provider.Output, req *types.GenerationRequest) (*Outcome, *genErrors.GenerationError) {
	desc, _ := c.registry.Describe(id)

	format := req.Format
	if format == "" {
		format = out.Format
	}
	norm, err := imageutil.Normalize(out.Image, format, desc.Capabilities.MaxWidth, desc.Capabilities.MaxHeight)
	if err != nil {
		return nil, genErrors.NewInternalError(id, fmt.Sprintf("normalize output: %v", err))
	}

	return &Outcome{
		Payload: types.Payload{
			Image:  norm.Image,
			Format: norm.Format,
			Width:  norm.Width,
			Height: norm.Height,
		},
		Metadata: types.ResultMetadata{
			Provider:         id,
			ModelID:          out.ModelID,
			ActualParameters: out.ActualParameters,
			Cost:             desc.Pricing.CostPerGeneration,
			QualityScore:     imageutil.Quality(norm.Width, norm.Height, req.Params.Width, req.Params.Height),
		},
	}, nil
}

// observe records the provider status implied by a failure. The registry
// expires it after its cooldown.
func (c *Controller) observe(id string, genErr *genErrors.GenerationError) {
	var status provider.Status
	switch genErr.Code {
	case genErrors.CodeRateLimit:
		status = provider.StatusRateLimited
	case genErrors.CodeServiceUnavailable, genErrors.CodeTimeout, genErrors.CodeAuthentication:
		status = provider.StatusOffline
	default:
		return
	}
	if err := c.registry.Observe(id, status); err != nil {
		c.logger.Error("failed to record provider status", "provider", id, "error", err)
	}
}
