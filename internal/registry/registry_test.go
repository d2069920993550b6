package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/genmux/internal/clock"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

func desc(id string, cost float64) provider.Descriptor {
	return provider.Descriptor{
		ID:      id,
		Pricing: provider.Pricing{CostPerGeneration: cost},
		Capabilities: provider.Capabilities{
			MaxWidth:     1024,
			MaxHeight:    1024,
			Formats:      []string{"png", "jpeg"},
			ImageToImage: true,
		},
	}
}

func TestNew(t *testing.T) {
	r, err := New([]provider.Descriptor{desc("a", 0), desc("b", 0.01)})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	status, ok := r.Status("a")
	require.True(t, ok)
	assert.Equal(t, provider.StatusOnline, status, "status defaults to online")

	d, ok := r.Describe("b")
	require.True(t, ok)
	assert.Equal(t, "b", d.DisplayName)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	_, err = New([]provider.Descriptor{desc("a", 0), desc("a", 1)})
	assert.Error(t, err, "duplicate ids are rejected")

	_, err = New([]provider.Descriptor{{}})
	assert.Error(t, err)

	bad := desc("x", 0)
	bad.Status = "degraded"
	_, err = New([]provider.Descriptor{bad})
	assert.Error(t, err)
}

func TestSetStatus(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	seen := map[string]provider.Status{}
	notified := 0
	r, err := New([]provider.Descriptor{desc("a", 0)},
		WithClock(clk),
		WithStatusListener(func(id string, s provider.Status) {
			mu.Lock()
			seen[id] = s
			notified++
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	require.NoError(t, r.SetStatus("a", provider.StatusOffline))

	d, _ := r.Describe("a")
	assert.Equal(t, provider.StatusOffline, d.Status)
	assert.Equal(t, clk.Now(), d.StatusUpdatedAt)
	assert.Equal(t, provider.StatusOffline, seen["a"])

	clk.Advance(time.Minute)
	require.NoError(t, r.SetStatus("a", provider.StatusOffline))
	d, _ = r.Describe("a")
	assert.Equal(t, clk.Now(), d.StatusUpdatedAt, "repeat writes refresh the observation time")
	assert.Equal(t, 1, notified, "listener only sees transitions")

	assert.Error(t, r.SetStatus("missing", provider.StatusOnline))
	assert.Error(t, r.SetStatus("a", "bogus"))
}

func TestObserve_CoolsDown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	var transitions []provider.Status
	r, err := New([]provider.Descriptor{desc("a", 0), desc("b", 0)},
		WithClock(clk),
		WithCooldown(30*time.Second),
		WithStatusListener(func(id string, s provider.Status) {
			if id == "a" {
				transitions = append(transitions, s)
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, r.Observe("a", provider.StatusOffline))
	id, ok := r.SelectBestProvider(provider.CapabilityFilter{}, 0, "a")
	require.True(t, ok)
	assert.Equal(t, "b", id, "a is skipped while cooling down")

	clk.Advance(29 * time.Second)
	status, _ := r.Status("a")
	assert.Equal(t, provider.StatusOffline, status)

	clk.Advance(time.Second)
	status, _ = r.Status("a")
	assert.Equal(t, provider.StatusOnline, status)
	d, _ := r.Describe("a")
	assert.Equal(t, start.Add(30*time.Second), d.StatusUpdatedAt)
	id, _ = r.SelectBestProvider(provider.CapabilityFilter{}, 0, "a")
	assert.Equal(t, "a", id)
	assert.Equal(t, []provider.Status{provider.StatusOffline, provider.StatusOnline}, transitions)

	// Operator writes do not lapse.
	require.NoError(t, r.SetStatus("b", provider.StatusOffline))
	clk.Advance(time.Hour)
	status, _ = r.Status("b")
	assert.Equal(t, provider.StatusOffline, status)
}

func TestObserve_ZeroCooldownHolds(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r, err := New([]provider.Descriptor{desc("a", 0)}, WithClock(clk), WithCooldown(0))
	require.NoError(t, err)

	require.NoError(t, r.Observe("a", provider.StatusRateLimited))
	clk.Advance(24 * time.Hour)
	status, _ := r.Status("a")
	assert.Equal(t, provider.StatusRateLimited, status)
}

func TestSetStatus_Concurrent(t *testing.T) {
	r, err := New([]provider.Descriptor{desc("a", 0)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := provider.StatusOnline
			if i%2 == 0 {
				s = provider.StatusOffline
			}
			_ = r.SetStatus("a", s)
			_, _ = r.SelectBestProvider(provider.CapabilityFilter{}, 0, "")
		}(i)
	}
	wg.Wait()

	status, _ := r.Status("a")
	assert.Contains(t, []provider.Status{provider.StatusOnline, provider.StatusOffline}, status)
}
