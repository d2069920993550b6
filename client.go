package genmux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/genmux/caches/memory"
	"github.com/blueberrycongee/genmux/internal/cache"
	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/internal/failover"
	"github.com/blueberrycongee/genmux/internal/fingerprint"
	"github.com/blueberrycongee/genmux/internal/healthcheck"
	"github.com/blueberrycongee/genmux/internal/metrics"
	"github.com/blueberrycongee/genmux/internal/observability"
	"github.com/blueberrycongee/genmux/internal/pricing"
	"github.com/blueberrycongee/genmux/internal/queue"
	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	pkgcache "github.com/blueberrycongee/genmux/pkg/cache"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
	"github.com/blueberrycongee/genmux/providers"
)

// Client is the main entry point for genmux library mode.
// It owns the provider registry, the cache store and the dispatch queue.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	registry    *registry.Registry
	adapters    map[string]provider.Provider
	backend     pkgcache.Backend
	store       *cache.Store
	queue       *queue.Queue
	failover    *failover.Controller
	estimator   *pricing.Estimator
	prober      *healthcheck.Prober
	fingerprint *fingerprint.Generator
	results     *gocache.Cache
	tracer      trace.Tracer
	archive     Archiver
	alerter     Alerter
	alerts      sync.WaitGroup
	logger      *slog.Logger
	clock       clock.Clock
	config      *ClientConfig

	cancel context.CancelFunc
}

// Submission acknowledges an accepted request.
type Submission struct {
	ID           string       `json:"id"`
	RequestID    string       `json:"request_id"`
	Fingerprint  string       `json:"fingerprint"`
	Status       types.Status `json:"status"`
	CacheHit     bool         `json:"cache_hit"`
	Deduplicated bool         `json:"deduplicated"`
	// Position is the 1-based wait position; zero once dispatching.
	Position int `json:"position,omitempty"`
	// Saturation is set when the request had to wait for a worker.
	Saturation *genErrors.GenerationError `json:"saturation,omitempty"`

	ticket *queue.Ticket
}

// Archiver receives every successful generation, e.g. for durable storage
// beyond the cache TTL. Failures are logged and never fail the request.
type Archiver interface {
	Archive(ctx context.Context, fingerprint string, payload *types.Payload, meta types.ResultMetadata) error
}

// Alerter is notified of terminal failures, completions and provider status
// transitions. Calls are asynchronous and failures are logged.
type Alerter interface {
	GenerationFailed(ctx context.Context, fingerprint string, err *genErrors.GenerationError) error
	GenerationCompleted(ctx context.Context, fingerprint string, meta types.ResultMetadata) error
	ProviderStatusChanged(ctx context.Context, id string, status provider.Status) error
}

const alertTimeout = 15 * time.Second

// New creates a new genmux client with the given options.
//
// Example:
//
//	client, err := genmux.New(
//	    genmux.WithProvider(genmux.ProviderDescriptor{ID: "local"},
//	        genmux.ProviderConfig{Type: "sdwebui", BaseURL: "http://localhost:7860"}),
//	    genmux.WithMaxConcurrent(3),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	c := &Client{
		adapters:    make(map[string]provider.Provider, len(cfg.Providers)),
		fingerprint: fingerprint.New(cfg.FingerprintPrefix),
		results:     gocache.New(cfg.ResultTTL, cfg.ResultTTL),
		tracer:      cfg.Tracer,
		archive:     cfg.Archive,
		alerter:     cfg.Alerter,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		config:      cfg,
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(observability.TracerName)
	}

	descs := make([]provider.Descriptor, 0, len(cfg.Providers))
	for _, spec := range cfg.Providers {
		adapter := spec.Instance
		if adapter == nil {
			var err error
			adapter, err = providers.Create(spec.Config)
			if err != nil {
				return nil, fmt.Errorf("add provider %s: %w", spec.Descriptor.ID, err)
			}
		}
		if _, dup := c.adapters[spec.Descriptor.ID]; dup {
			return nil, fmt.Errorf("add provider %s: duplicate id", spec.Descriptor.ID)
		}
		c.adapters[spec.Descriptor.ID] = adapter
		descs = append(descs, spec.Descriptor)
	}

	reg, err := registry.New(descs,
		registry.WithClock(cfg.Clock),
		registry.WithCooldown(cfg.StatusCooldown),
		registry.WithStatusListener(func(id string, status provider.Status) {
			metrics.SetProviderStatus(id, string(status))
			c.notify(func(ctx context.Context, a Alerter) error {
				return a.ProviderStatusChanged(ctx, id, status)
			})
		}),
	)
	if err != nil {
		return nil, err
	}
	c.registry = reg
	for _, d := range reg.List() {
		metrics.SetProviderStatus(d.ID, string(d.Status))
	}

	c.backend = cfg.CacheBackend
	if c.backend == nil {
		c.backend = memory.New(memory.DefaultConfig())
	}
	c.store = cache.NewStore(c.backend, cfg.Cache, cfg.Clock, cfg.Logger)

	c.failover = failover.New(reg, c.adapters,
		failover.WithMaxAttempts(cfg.MaxAttempts),
		failover.WithClock(cfg.Clock),
		failover.WithLogger(cfg.Logger),
		failover.WithAttemptHook(metrics.RecordAttempt),
		failover.WithTracer(c.tracer),
	)
	c.estimator = pricing.NewEstimator(reg)
	c.prober = healthcheck.NewProber(cfg.HealthCheck, reg, c.adapters, cfg.Logger)
	c.queue = queue.New(queue.Config{MaxConcurrent: cfg.MaxConcurrent}, c.dispatch,
		queue.WithClock(cfg.Clock),
		queue.WithLogger(cfg.Logger),
		queue.WithOnFinished(c.onFinished),
	)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.store.StartCleanup(ctx, cfg.CacheCleanupInterval)
	c.prober.Start(ctx)

	c.logger.Info("genmux client initialized",
		"providers", reg.Len(),
		"max_concurrent", cfg.MaxConcurrent,
		"max_attempts", c.failover.MaxAttempts(),
	)
	return c, nil
}

// Generate submits req and waits for its terminal result. Provider and
// failover errors are reported on the result, not as an error. If ctx ends
// first a waiting submission is cancelled; a dispatching one runs on.
func (c *Client) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResult, error) {
	sub, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if sub.ticket == nil {
		return c.PollStatus(sub.ID)
	}

	res, err := c.queue.Wait(ctx, sub.ticket)
	if err != nil {
		c.queue.Cancel(sub.ID)
		return nil, genErrors.Wrap("", err)
	}
	return res, nil
}

// Submit validates req and admits it. A cache hit completes immediately;
// otherwise the request is queued or attached to an identical in-flight one.
func (c *Client) Submit(ctx context.Context, req *types.GenerationRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	req.Normalize(now)
	if req.ID == "" {
		req.ID = observability.RequestIDFromContext(ctx)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	fp := c.fingerprint.Compute(req)

	if !req.CacheControl.NoCache {
		if res := c.lookup(ctx, req, fp, now); res != nil {
			c.results.SetDefault(res.ID, res)
			metrics.RecordGeneration(res.Metadata.Provider, string(res.Status), true, 0, 0)
			return &Submission{
				ID:          res.ID,
				RequestID:   req.ID,
				Fingerprint: fp,
				Status:      res.Status,
				CacheHit:    true,
			}, nil
		}
	}

	ticket, joined, err := c.queue.Enqueue(req, fp)
	if err != nil {
		return nil, genErrors.NewServiceUnavailableError("", err.Error())
	}
	if joined {
		metrics.QueueDeduplicated.Inc()
	}

	sub := &Submission{
		ID:           ticket.ID,
		RequestID:    req.ID,
		Fingerprint:  fp,
		Status:       types.StatusQueued,
		Deduplicated: joined,
		ticket:       ticket,
	}
	if snap, ok := c.queue.Snapshot(ticket.ID); ok {
		sub.Status = snap.Status
	}
	if pos := c.queue.Position(ticket.ID); pos > 0 {
		sub.Position = pos
		sub.Saturation = genErrors.NewQueueSaturationError(pos)
	}
	c.publishQueueDepth()

	c.logger.Debug("generation submitted",
		"ticket_id", ticket.ID,
		"fingerprint", fp,
		"priority", req.Priority,
		"deduplicated", joined,
		"position", sub.Position,
	)
	return sub, nil
}

// lookup returns a completed result for a cache hit. Store errors are logged
// and treated as a miss.
func (c *Client) lookup(ctx context.Context, req *types.GenerationRequest, fp string, now time.Time) *types.GenerationResult {
	entry, err := c.store.Get(ctx, fp)
	if err != nil {
		metrics.RecordCacheLookup("error")
		metrics.RecordCacheError("get")
		c.logger.Warn("cache unavailable, dispatching without cache",
			"fingerprint", fp,
			"error", genErrors.NewCacheUnavailableError(err.Error()),
		)
		return nil
	}
	if entry == nil {
		metrics.RecordCacheLookup("miss")
		return nil
	}
	metrics.RecordCacheLookup("hit")

	payload := entry.Payload
	completed := now
	return &types.GenerationResult{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Status:    types.StatusCompleted,
		Payload:   &payload,
		Metadata: types.ResultMetadata{
			Provider:     entry.Metadata.Provider,
			ModelID:      entry.Metadata.ModelID,
			CacheHit:     true,
			QualityScore: entry.Metadata.QualityScore,
			Fingerprint:  fp,
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &completed,
	}
}

// dispatch runs on a queue worker: failover, then cache write on success.
func (c *Client) dispatch(ctx context.Context, req *types.GenerationRequest, fp string) *types.GenerationResult {
	c.publishQueueDepth()

	ctx = observability.ContextWithRequestID(ctx, req.ID)
	ctx, span := observability.StartGenerationSpan(ctx, c.tracer, req.ID, fp, string(req.Priority))
	defer span.End()

	outcome, err := c.failover.Run(ctx, req)
	if err != nil {
		genErr := genErrors.Wrap("", err)
		observability.RecordError(span, genErr.Code, genErr)
		c.notify(func(ctx context.Context, a Alerter) error {
			return a.GenerationFailed(ctx, fp, genErr)
		})
		metrics.RecordGeneration(genErr.Provider, string(types.StatusFailed), false, 0, 0)
		c.logger.WarnContext(ctx, "generation failed",
			"fingerprint", fp,
			"code", genErr.Code,
			"retryable", genErr.Retryable,
			"error", genErr.Message,
		)
		return &types.GenerationResult{Status: types.StatusFailed, Error: genErr}
	}

	payload := outcome.Payload
	res := &types.GenerationResult{
		Status:   types.StatusCompleted,
		Payload:  &payload,
		Metadata: outcome.Metadata,
	}
	res.Metadata.Fingerprint = fp
	metrics.RecordGeneration(res.Metadata.Provider, string(res.Status), false,
		res.Metadata.ProcessingTime, res.Metadata.Cost)

	if !req.CacheControl.NoStore {
		if err := c.store.Set(ctx, fp, res, req, req.CacheControl.TTL); err != nil {
			metrics.RecordCacheError("set")
			c.logger.WarnContext(ctx, "cache write failed",
				"fingerprint", fp,
				"error", genErrors.NewCacheUnavailableError(err.Error()),
			)
		}
	}
	if c.archive != nil {
		if err := c.archive.Archive(ctx, fp, res.Payload, res.Metadata); err != nil {
			c.logger.WarnContext(ctx, "archive failed", "fingerprint", fp, "error", err)
		}
	}
	meta := res.Metadata
	c.notify(func(ctx context.Context, a Alerter) error {
		return a.GenerationCompleted(ctx, fp, meta)
	})
	return res
}

// notify delivers an alert off the worker goroutine.
func (c *Client) notify(fn func(context.Context, Alerter) error) {
	if c.alerter == nil {
		return
	}
	c.alerts.Add(1)
	go func() {
		defer c.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := fn(ctx, c.alerter); err != nil {
			c.logger.Warn("alert delivery failed", "error", err)
		}
	}()
}

func (c *Client) onFinished(t *queue.Ticket, res *types.GenerationResult) {
	c.results.SetDefault(t.ID, res)
	c.publishQueueDepth()
}

func (c *Client) publishQueueDepth() {
	s := c.queue.Stats()
	metrics.SetQueueDepth(s.Waiting, s.Active)
}

// PollStatus returns a snapshot of a submission.
func (c *Client) PollStatus(id string) (*types.GenerationResult, error) {
	if snap, ok := c.queue.Snapshot(id); ok {
		return snap, nil
	}
	if v, ok := c.results.Get(id); ok {
		return v.(*types.GenerationResult).Clone(), nil
	}
	return nil, genErrors.NewNotFoundError("unknown generation: " + id)
}

// FetchResult returns the image of a completed submission.
func (c *Client) FetchResult(id string) (*types.Payload, error) {
	res, err := c.PollStatus(id)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case types.StatusCompleted:
		if res.Payload == nil {
			return nil, genErrors.NewInternalError("", "completed result has no payload")
		}
		return res.Payload, nil
	case types.StatusFailed, types.StatusCancelled:
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, genErrors.NewInternalError("", "generation did not complete")
	default:
		return nil, genErrors.NewNotReadyError("generation is " + string(res.Status))
	}
}

// Cancel cancels a submission. Waiting submissions are removed without side
// effects. Cancelling a dispatching one is advisory: it keeps processing and
// its result is still cached and pollable.
func (c *Client) Cancel(id string) error {
	switch c.queue.Cancel(id) {
	case queue.CancelRemoved:
		c.publishQueueDepth()
		return nil
	case queue.CancelAdvisory:
		c.logger.Debug("cancel ignored for dispatching generation", "id", id)
		return nil
	}
	if res, err := c.PollStatus(id); err == nil && res.Status.IsTerminal() {
		return genErrors.NewInvalidRequestError("", "generation already finished")
	}
	return genErrors.NewNotFoundError("unknown generation: " + id)
}

// CacheStats aggregates over live cache entries.
func (c *Client) CacheStats(ctx context.Context) (cache.Stats, error) {
	return c.store.Stats(ctx)
}

// QueueStats returns queue counters.
func (c *Client) QueueStats() queue.Stats {
	return c.queue.Stats()
}

// CheckProviderHealth probes one provider and records its status.
func (c *Client) CheckProviderHealth(ctx context.Context, id string) (healthcheck.Result, error) {
	return c.prober.Check(ctx, id)
}

// SetProviderStatus records an externally observed status, such as a
// maintenance window from configuration.
func (c *Client) SetProviderStatus(id string, status provider.Status) error {
	return c.registry.SetStatus(id, status)
}

// EstimateCost returns the advertised cost for req.
func (c *Client) EstimateCost(req *types.GenerationRequest) (pricing.Estimate, error) {
	if err := req.Validate(); err != nil {
		return pricing.Estimate{}, err
	}
	req.Normalize(c.clock.Now())
	return c.estimator.EstimateCost(req)
}

// InvalidateTag deletes every cache entry carrying tag.
func (c *Client) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return c.store.InvalidateTag(ctx, tag)
}

// CleanupCache sweeps expired entries now.
func (c *Client) CleanupCache(ctx context.Context) (int, error) {
	return c.store.Cleanup(ctx)
}

// Providers returns provider descriptors with their observed status.
func (c *Client) Providers() []provider.Descriptor {
	return c.registry.List()
}

// Ping checks the cache backend.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close stops background work, cancels waiting submissions, waits for
// in-flight dispatches and closes the cache backend.
func (c *Client) Close() error {
	c.cancel()
	c.queue.Close()
	c.alerts.Wait()
	err := c.backend.Close()
	c.logger.Info("genmux client closed")
	return err
}
