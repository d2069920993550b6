package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/genmux/caches/memory"
	"github.com/blueberrycongee/genmux/caches/redis"
	"github.com/blueberrycongee/genmux/internal/clock"
	pkgcache "github.com/blueberrycongee/genmux/pkg/cache"
	"github.com/blueberrycongee/genmux/pkg/types"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testStart)
	return NewStore(memory.New(memory.DefaultConfig()), DefaultConfig(), clk, nil), clk
}

func testResult(quality float64) *types.GenerationResult {
	return &types.GenerationResult{
		ID:     "res",
		Status: types.StatusCompleted,
		Payload: &types.Payload{
			Image:  []byte("png-bytes"),
			Format: "png",
			Width:  512,
			Height: 512,
		},
		Metadata: types.ResultMetadata{Provider: "mock", ModelID: "mock-v1", QualityScore: quality},
	}
}

func testRequest(tags ...string) *types.GenerationRequest {
	return &types.GenerationRequest{
		Prompt:       "a red circle",
		Image:        []byte("sketch"),
		CacheControl: types.CacheControl{Tags: tags},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", testResult(1), testRequest(), time.Hour))

	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("png-bytes"), entry.Payload.Image)
	assert.Equal(t, int64(1), entry.Metadata.HitCount)
	assert.Equal(t, "mock", entry.Metadata.Provider)
	assert.Nil(t, entry.Metadata.Request.Image, "request snapshot drops image bytes")

	entry, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Metadata.HitCount)

	miss, err := s.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestStore_HitDoesNotExtendExpiry(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", testResult(1), testRequest(), time.Hour))

	clk.Advance(30 * time.Minute)
	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, testStart.Add(time.Hour), entry.Metadata.ExpiresAt)
	assert.Equal(t, testStart.Add(30*time.Minute), entry.Metadata.LastAccessed)
}

func TestStore_Expiry(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", testResult(1), testRequest(), time.Hour))
	require.NoError(t, s.Set(ctx, "k2", testResult(1), testRequest(), 3*time.Hour))

	clk.Advance(time.Hour)

	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, entry, "entry is a miss at writeTime + ttl")

	require.NoError(t, s.Set(ctx, "k3", testResult(1), testRequest(), time.Minute))
	clk.Advance(2 * time.Minute)

	deleted, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "k1 was already removed on read, k3 is swept")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalKeys)
}

func TestStore_DefaultTTL(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", testResult(1), testRequest(), 0))
	clk.Advance(23 * time.Hour)
	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, testStart.Add(24*time.Hour), entry.Metadata.ExpiresAt)
}

func TestStore_SetRejectsEmptyResult(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Set(context.Background(), "k", &types.GenerationResult{}, testRequest(), 0)
	assert.Error(t, err)
}

func TestStore_Stats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", testResult(1.0), testRequest(), time.Hour))
	require.NoError(t, s.Set(ctx, "b", testResult(0.5), testRequest(), time.Hour))

	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "missing")
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalKeys)
	assert.Equal(t, int64(2), stats.TotalHits)
	assert.InDelta(t, 0.75, stats.AverageQuality, 1e-9)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, int64(18), stats.TotalBytes)
	assert.Equal(t, "18 B", stats.HumanSize)

	again, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalHits, again.TotalHits, "stats reads are not hits")
}

func TestStore_InvalidateTag(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", testResult(1), testRequest("campaign"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", testResult(1), testRequest("campaign", "other"), time.Hour))
	require.NoError(t, s.Set(ctx, "c", testResult(1), testRequest("other"), time.Hour))

	deleted, err := s.InvalidateTag(ctx, "campaign")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	for _, key := range []string{"a", "b"} {
		entry, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, entry, key)
	}
	entry, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	deleted, err = s.InvalidateTag(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "b is gone from the other tag set too")
}

func TestStore_ConcurrentHits(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", testResult(1), testRequest(), time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, "k")
		}()
	}
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.TotalHits, "per-key updates are serialized")
}

func TestStore_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "genmux")
	clk := clock.NewManual(testStart)
	s := NewStore(backend, DefaultConfig(), clk, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", testResult(1), testRequest("t"), time.Hour))
	assert.True(t, mr.Exists("genmux:entry:k1"))

	members, err := mr.Members("genmux:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)

	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.Metadata.HitCount)

	// Backend expiry removes the value; cleanup drops the stale index member.
	mr.FastForward(2 * time.Hour)
	deleted, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	left, err := backend.SetMembers(ctx, "index")
	require.NoError(t, err)
	assert.Empty(t, left)
}

type failingBackend struct {
	pkgcache.Backend
}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestStore_BackendErrorsSurface(t *testing.T) {
	s := NewStore(failingBackend{Backend: memory.New(memory.DefaultConfig())}, DefaultConfig(), nil, nil)
	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
