package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// gatedDispatch blocks every dispatch until release is closed and records the
// order in which fingerprints were dispatched.
type gatedDispatch struct {
	release chan struct{}
	started chan string
	calls   atomic.Int64

	mu    sync.Mutex
	order []string
}

func newGated() *gatedDispatch {
	return &gatedDispatch{release: make(chan struct{}), started: make(chan string, 64)}
}

func (g *gatedDispatch) fn(ctx context.Context, req *types.GenerationRequest, fp string) *types.GenerationResult {
	g.calls.Add(1)
	g.mu.Lock()
	g.order = append(g.order, fp)
	g.mu.Unlock()
	g.started <- fp
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	if req.Prompt == "fail" {
		return &types.GenerationResult{Status: types.StatusFailed, Error: genErrors.NewInternalError("mock", "boom")}
	}
	return &types.GenerationResult{
		Status:   types.StatusCompleted,
		Payload:  &types.Payload{Image: []byte(fp), Format: "png"},
		Metadata: types.ResultMetadata{Provider: "mock"},
	}
}

func req(id string, p types.Priority) *types.GenerationRequest {
	return &types.GenerationRequest{ID: id, Prompt: "p-" + id, Priority: p}
}

func waitStarted(t *testing.T, g *gatedDispatch) string {
	t.Helper()
	select {
	case fp := <-g.started:
		return fp
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not start")
		return ""
	}
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 1}, g.fn)
	defer q.Close()

	_, _, err := q.Enqueue(req("blocker", types.PriorityNormal), "blocker")
	require.NoError(t, err)
	waitStarted(t, g)

	for _, e := range []struct {
		id string
		p  types.Priority
	}{
		{"low", types.PriorityLow},
		{"normal-1", types.PriorityNormal},
		{"high", types.PriorityHigh},
		{"normal-2", types.PriorityNormal},
	} {
		_, _, err := q.Enqueue(req(e.id, e.p), e.id)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, q.Stats().Waiting)

	close(g.release)
	for i := 0; i < 4; i++ {
		waitStarted(t, g)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, []string{"blocker", "high", "normal-1", "normal-2", "low"}, g.order)
}

func TestQueue_DedupSingleDispatch(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 3}, g.fn)
	defer q.Close()

	const n = 10
	tickets := make([]*Ticket, n)
	var joined atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, j, err := q.Enqueue(req(fmt.Sprintf("r%d", i), types.PriorityNormal), "same")
			assert.NoError(t, err)
			if j {
				joined.Add(1)
			}
			tickets[i] = tk
		}(i)
	}
	wg.Wait()
	close(g.release)

	ids := make(map[string]bool)
	for _, tk := range tickets {
		res, err := q.Wait(context.Background(), tk)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, res.Status)
		assert.Equal(t, tk.ID, res.ID)
		assert.Equal(t, tk.RequestID, res.RequestID)
		ids[res.ID] = true
	}

	assert.Equal(t, int64(1), g.calls.Load())
	assert.Equal(t, int64(n-1), joined.Load())
	assert.Len(t, ids, n, "every caller gets its own result")

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(n-1), stats.Deduplicated)
}

func TestQueue_JoinAfterCompletionDispatchesAgain(t *testing.T) {
	g := newGated()
	close(g.release)
	q := New(Config{MaxConcurrent: 1}, g.fn)
	defer q.Close()

	first, _, err := q.Enqueue(req("a", types.PriorityNormal), "fp")
	require.NoError(t, err)
	_, err = q.Wait(context.Background(), first)
	require.NoError(t, err)

	second, joined, err := q.Enqueue(req("b", types.PriorityNormal), "fp")
	require.NoError(t, err)
	assert.False(t, joined)
	_, err = q.Wait(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), g.calls.Load())
}

func TestQueue_CancelQueued(t *testing.T) {
	g := newGated()
	var finished []types.Status
	var mu sync.Mutex
	q := New(Config{MaxConcurrent: 1}, g.fn, WithOnFinished(func(_ *Ticket, r *types.GenerationResult) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, r.Status)
	}))
	defer q.Close()

	_, _, err := q.Enqueue(req("blocker", types.PriorityNormal), "blocker")
	require.NoError(t, err)
	waitStarted(t, g)

	queued, _, err := q.Enqueue(req("queued", types.PriorityNormal), "queued")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Position(queued.ID))

	require.Equal(t, CancelRemoved, q.Cancel(queued.ID))
	assert.Equal(t, CancelNotFound, q.Cancel(queued.ID), "already cancelled")

	res, err := q.Wait(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, genErrors.CodeCancelled, res.Error.Code)

	close(g.release)
	stats := q.Stats()
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(1), g.calls.Load(), "cancelled job is never dispatched")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, finished, types.StatusCancelled)
}

func TestQueue_CancelSharedJobKeepsOtherSubscribers(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 1}, g.fn)
	defer q.Close()

	_, _, err := q.Enqueue(req("blocker", types.PriorityNormal), "blocker")
	require.NoError(t, err)
	waitStarted(t, g)

	a, _, err := q.Enqueue(req("a", types.PriorityNormal), "shared")
	require.NoError(t, err)
	b, joined, err := q.Enqueue(req("b", types.PriorityNormal), "shared")
	require.NoError(t, err)
	require.True(t, joined)

	require.Equal(t, CancelRemoved, q.Cancel(a.ID))
	close(g.release)

	res, err := q.Wait(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, int64(0), q.Stats().Cancelled)
}

func TestQueue_CancelProcessingIsAdvisory(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 1}, g.fn)
	defer q.Close()

	tk, _, err := q.Enqueue(req("a", types.PriorityNormal), "fp")
	require.NoError(t, err)
	waitStarted(t, g)

	snap, ok := q.Snapshot(tk.ID)
	require.True(t, ok)
	assert.Equal(t, types.StatusProcessing, snap.Status)
	assert.Equal(t, 0, q.Position(tk.ID))

	assert.Equal(t, CancelAdvisory, q.Cancel(tk.ID))
	snap, ok = q.Snapshot(tk.ID)
	require.True(t, ok)
	assert.Equal(t, types.StatusProcessing, snap.Status, "processing is never cancelled")

	close(g.release)
	res, err := q.Wait(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, int64(0), q.Stats().Cancelled)
}

func TestQueue_TerminalVisibleUntilPublished(t *testing.T) {
	// Every ticket must be reachable through Snapshot or the finish callback
	// at all times: the callback runs before the ticket leaves the queue.
	g := newGated()
	published := make(chan string, 1)
	var q *Queue
	q = New(Config{MaxConcurrent: 1}, g.fn, WithOnFinished(func(tk *Ticket, r *types.GenerationResult) {
		snap, ok := q.Snapshot(tk.ID)
		if assert.True(t, ok, "ticket still visible while finishing") {
			assert.Equal(t, r.Status, snap.Status)
		}
		published <- tk.ID
	}))
	defer q.Close()

	tk, _, err := q.Enqueue(req("a", types.PriorityNormal), "fp")
	require.NoError(t, err)
	waitStarted(t, g)
	close(g.release)

	assert.Equal(t, tk.ID, <-published)
	<-tk.Done()
	_, ok := q.Snapshot(tk.ID)
	assert.False(t, ok, "ticket leaves the queue once published")
}

func TestQueue_ConcurrencyLimit(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 3}, g.fn)
	defer q.Close()

	var tickets []*Ticket
	for i := 0; i < 5; i++ {
		tk, _, err := q.Enqueue(req(fmt.Sprintf("r%d", i), types.PriorityNormal), fmt.Sprintf("fp%d", i))
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	for i := 0; i < 3; i++ {
		waitStarted(t, g)
	}

	stats := q.Stats()
	assert.LessOrEqual(t, stats.Active, 3)
	assert.Equal(t, 2, stats.Waiting)

	close(g.release)
	for _, tk := range tickets {
		_, err := q.Wait(context.Background(), tk)
		require.NoError(t, err)
	}

	stats = q.Stats()
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(5), stats.Completed)
}

func TestQueue_FailedAndPanickingDispatch(t *testing.T) {
	q := New(Config{MaxConcurrent: 1}, func(_ context.Context, r *types.GenerationRequest, _ string) *types.GenerationResult {
		if r.Prompt == "panic" {
			panic("adapter bug")
		}
		return nil
	})
	defer q.Close()

	for _, prompt := range []string{"panic", "nil"} {
		tk, _, err := q.Enqueue(&types.GenerationRequest{ID: prompt, Prompt: prompt}, prompt)
		require.NoError(t, err)
		res, err := q.Wait(context.Background(), tk)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		require.NotNil(t, res.Error)
		assert.Equal(t, genErrors.CodeInternal, res.Error.Code)
	}
	assert.Equal(t, int64(2), q.Stats().Failed)
}

func TestQueue_PriorityPromotionOnJoin(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 1}, g.fn)
	defer q.Close()

	_, _, err := q.Enqueue(req("blocker", types.PriorityNormal), "blocker")
	require.NoError(t, err)
	waitStarted(t, g)

	_, _, err = q.Enqueue(req("n", types.PriorityNormal), "normal")
	require.NoError(t, err)
	low, _, err := q.Enqueue(req("l", types.PriorityLow), "low")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Position(low.ID))

	_, joined, err := q.Enqueue(req("h", types.PriorityHigh), "low")
	require.NoError(t, err)
	require.True(t, joined)
	assert.Equal(t, 1, q.Position(low.ID))
}

func TestQueue_Close(t *testing.T) {
	g := newGated()
	q := New(Config{MaxConcurrent: 1}, g.fn)

	running, _, err := q.Enqueue(req("a", types.PriorityNormal), "a")
	require.NoError(t, err)
	waitStarted(t, g)
	waiting, _, err := q.Enqueue(req("b", types.PriorityNormal), "b")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(g.release)
	}()
	q.Close()

	res, err := q.Wait(context.Background(), waiting)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, res.Status)

	res, err = q.Wait(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)

	_, _, err = q.Enqueue(req("c", types.PriorityNormal), "c")
	assert.ErrorIs(t, err, ErrClosed)
}
