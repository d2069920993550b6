package failover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
	"github.com/blueberrycongee/genmux/providers/mock"
)

func desc(id string, cost float64) provider.Descriptor {
	return provider.Descriptor{
		ID:      id,
		Pricing: provider.Pricing{CostPerGeneration: cost},
		Capabilities: provider.Capabilities{
			MaxWidth:  1024,
			MaxHeight: 1024,
			Formats:   []string{"png"},
		},
	}
}

func setup(t *testing.T, descs []provider.Descriptor, adapters ...*mock.Provider) (*Controller, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(descs)
	require.NoError(t, err)
	m := make(map[string]provider.Provider, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return New(reg, m), reg
}

func request() *types.GenerationRequest {
	return &types.GenerationRequest{
		Prompt: "a red circle",
		Params: types.Params{Steps: 20, Guidance: 7, Width: 256, Height: 256},
	}
}

func TestRun_Success(t *testing.T) {
	a := mock.New(mock.WithName("A"))
	c, _ := setup(t, []provider.Descriptor{desc("A", 0.002)}, a)

	out, err := c.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Metadata.Provider)
	assert.Equal(t, mock.ModelID, out.Metadata.ModelID)
	assert.Equal(t, 1, out.Metadata.Attempts)
	assert.InDelta(t, 0.002, out.Metadata.Cost, 1e-9)
	assert.InDelta(t, 1.0, out.Metadata.QualityScore, 1e-9)
	assert.Equal(t, 256, out.Payload.Width)
	assert.Equal(t, "png", out.Payload.Format)
	assert.NotEmpty(t, out.Payload.Image)
}

func TestRun_FailoverToNextProvider(t *testing.T) {
	a := mock.New(mock.WithName("A"), mock.WithFailures(genErrors.NewServiceUnavailableError("A", "upstream 503")))
	b := mock.New(mock.WithName("B"))
	c, reg := setup(t, []provider.Descriptor{desc("A", 0), desc("B", 0.01)}, a, b)

	var mu sync.Mutex
	var seen []string
	c.hook = func(id, code string, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id+":"+code)
	}

	out, err := c.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "B", out.Metadata.Provider)
	assert.Equal(t, 2, out.Metadata.Attempts)
	assert.Equal(t, int64(1), a.Calls(), "a failed provider is not retried")
	assert.Equal(t, []string{"A:" + genErrors.CodeServiceUnavailable, "B:"}, seen)

	status, _ := reg.Status("A")
	assert.Equal(t, provider.StatusOffline, status)
}

func TestRun_RateLimitMarksProvider(t *testing.T) {
	a := mock.New(mock.WithName("A"), mock.WithFailures(genErrors.NewRateLimitError("A", "slow down")))
	b := mock.New(mock.WithName("B"))
	c, reg := setup(t, []provider.Descriptor{desc("A", 0), desc("B", 0)}, a, b)

	_, err := c.Run(context.Background(), request())
	require.NoError(t, err)
	status, _ := reg.Status("A")
	assert.Equal(t, provider.StatusRateLimited, status)
}

func TestRun_AllOffline(t *testing.T) {
	a := mock.New(mock.WithName("A"))
	c, reg := setup(t, []provider.Descriptor{desc("A", 0), desc("B", 0)}, a)
	require.NoError(t, reg.SetStatus("A", provider.StatusOffline))
	require.NoError(t, reg.SetStatus("B", provider.StatusOffline))

	_, err := c.Run(context.Background(), request())
	genErr, ok := genErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, genErrors.CodeExhaustedFailover, genErr.Code)
	assert.NotEmpty(t, genErr.SuggestedFix)
	assert.Zero(t, a.Calls())
}

func TestRun_BoundedAttempts(t *testing.T) {
	fail := genErrors.NewTimeoutError("", "deadline")
	var descs []provider.Descriptor
	var adapters []*mock.Provider
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		descs = append(descs, desc(id, 0))
		adapters = append(adapters, mock.New(mock.WithName(id), mock.WithAlwaysFail(fail)))
	}
	c, _ := setup(t, descs, adapters...)

	_, err := c.Run(context.Background(), request())
	genErr, ok := genErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, genErrors.CodeExhaustedFailover, genErr.Code)
	require.NotNil(t, genErr.Cause)
	assert.Equal(t, "p3", genErr.Cause.Provider, "last error comes from the third attempt")
	assert.Zero(t, adapters[3].Calls())
	assert.Zero(t, adapters[4].Calls())
}

func TestRun_RequestScopedErrorIsTerminal(t *testing.T) {
	a := mock.New(mock.WithName("A"), mock.WithAlwaysFail(genErrors.NewContentPolicyError("A", "blocked")))
	b := mock.New(mock.WithName("B"))
	c, reg := setup(t, []provider.Descriptor{desc("A", 0), desc("B", 0)}, a, b)

	_, err := c.Run(context.Background(), request())
	genErr, ok := genErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, genErrors.CodeContentPolicy, genErr.Code)
	assert.Zero(t, b.Calls())

	status, _ := reg.Status("A")
	assert.Equal(t, provider.StatusOnline, status, "request-scoped failures do not mark the provider")
}

func TestRun_UndecodableOutputFailsOver(t *testing.T) {
	c, _ := setup(t, []provider.Descriptor{desc("bad", 0), desc("good", 0)}, mock.New(mock.WithName("good")))
	c.adapters["bad"] = garbage{}

	out, err := c.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "good", out.Metadata.Provider)
}

func TestRun_Cancelled(t *testing.T) {
	c, _ := setup(t, []provider.Descriptor{desc("A", 0)}, mock.New(mock.WithName("A")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, request())
	genErr, ok := genErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, genErrors.CodeCancelled, genErr.Code)
}

func TestRun_ResizesToProviderLimit(t *testing.T) {
	small := desc("A", 0)
	small.Capabilities.MaxWidth = 128
	small.Capabilities.MaxHeight = 128
	c, _ := setup(t, []provider.Descriptor{small}, mock.New(mock.WithName("A")))

	req := request()
	req.Params.Width, req.Params.Height = 0, 0
	out, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 128, out.Payload.Width)
	assert.Equal(t, 128, out.Payload.Height)
}

type garbage struct{}

func (garbage) Name() string               { return "bad" }
func (garbage) Ready(context.Context) bool { return true }
func (garbage) Generate(context.Context, *provider.Input) (*provider.Output, error) {
	return &provider.Output{Image: []byte("not an image"), Format: "png"}, nil
}

func TestRun_TracesAttempts(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	a := mock.New(mock.WithName("A"), mock.WithAlwaysFail(genErrors.NewTimeoutError("A", "slow")))
	b := mock.New(mock.WithName("B"))
	reg, err := registry.New([]provider.Descriptor{desc("A", 0), desc("B", 0)})
	require.NoError(t, err)
	c := New(reg, map[string]provider.Provider{"A": a, "B": b}, WithTracer(tracer))

	_, err = c.Run(context.Background(), request())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "genmux.provider_attempt", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
	assert.Equal(t, "Unset", spans[1].Status().Code.String())
}
