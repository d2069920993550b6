// Package queue bounds concurrent generations with a fixed worker pool.
//
// Jobs leave the queue strictly by priority class, then in arrival order.
// Callers submitting a fingerprint that is already queued or in flight are
// attached to the existing job, so each fingerprint has at most one dispatch.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blueberrycongee/genmux/internal/clock"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// DefaultMaxConcurrent is the worker count used when none is configured.
const DefaultMaxConcurrent = 4

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue is closed")

// Dispatch produces the terminal result for a job. It runs on a worker
// goroutine with a context that outlives any single caller.
type Dispatch func(ctx context.Context, req *types.GenerationRequest, fingerprint string) *types.GenerationResult

// FinishedFunc is called once per caller when its ticket reaches a terminal
// status.
type FinishedFunc func(t *Ticket, result *types.GenerationResult)

// Config holds queue settings.
type Config struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Stats are point-in-time queue counters. Completed, Failed and Cancelled
// count jobs, not callers.
type Stats struct {
	Waiting      int   `json:"waiting"`
	Active       int   `json:"active"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Cancelled    int64 `json:"cancelled"`
	Deduplicated int64 `json:"deduplicated"`
}

type jobState int

const (
	stateQueued jobState = iota
	stateProcessing
	stateDone
)

// job is one unit of dispatch shared by every subscriber with the same
// fingerprint.
type job struct {
	fingerprint string
	req         *types.GenerationRequest
	rank        int
	seq         uint64
	index       int
	state       jobState
	subscribers []*Ticket
}

func (j *job) before(o *job) bool {
	if j.rank != o.rank {
		return j.rank < o.rank
	}
	return j.seq < o.seq
}

// Ticket is one caller's handle on a job.
type Ticket struct {
	ID          string
	RequestID   string
	Fingerprint string
	Priority    types.Priority

	job    *job
	result *types.GenerationResult
	done   chan struct{}
}

// Done is closed when the ticket reaches a terminal status.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Queue is a priority queue drained by MaxConcurrent workers.
type Queue struct {
	dispatch Dispatch
	clock    clock.Clock
	logger   *slog.Logger
	onFinish FinishedFunc

	mu       sync.Mutex
	cond     *sync.Cond
	pending  jobHeap
	inflight map[string]*job
	tickets  map[string]*Ticket
	seq      uint64
	active   int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed    atomic.Int64
	failed       atomic.Int64
	cancelled    atomic.Int64
	deduplicated atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used to stamp results.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithOnFinished registers a callback for terminal tickets.
func WithOnFinished(fn FinishedFunc) Option {
	return func(q *Queue) {
		q.onFinish = fn
	}
}

// New creates a queue and starts its workers.
func New(cfg Config, dispatch Dispatch, opts ...Option) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		dispatch: dispatch,
		clock:    clock.New(),
		logger:   slog.Default(),
		inflight: make(map[string]*job),
		tickets:  make(map[string]*Ticket),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}

	for i := 0; i < cfg.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue admits req under fingerprint. joined reports whether the caller
// was attached to an existing queued or in-flight job.
func (q *Queue) Enqueue(req *types.GenerationRequest, fingerprint string) (*Ticket, bool, error) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, ErrClosed
	}

	t := &Ticket{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		Fingerprint: fingerprint,
		Priority:    req.Priority,
		result:      types.NewResult("", req.ID, now),
		done:        make(chan struct{}),
	}
	t.result.ID = t.ID
	t.result.Metadata.Fingerprint = fingerprint
	q.tickets[t.ID] = t

	if j, ok := q.inflight[fingerprint]; ok {
		t.job = j
		j.subscribers = append(j.subscribers, t)
		if j.state == stateProcessing {
			_ = t.result.Transition(types.StatusProcessing, now)
		} else if rank := req.Priority.Rank(); rank < j.rank {
			// A more urgent subscriber promotes the shared job.
			j.rank = rank
			heap.Fix(&q.pending, j.index)
		}
		q.deduplicated.Add(1)
		q.logger.Debug("request joined in-flight generation",
			"ticket_id", t.ID,
			"fingerprint", fingerprint,
			"subscribers", len(j.subscribers),
		)
		return t, true, nil
	}

	q.seq++
	j := &job{
		fingerprint: fingerprint,
		req:         req,
		rank:        req.Priority.Rank(),
		seq:         q.seq,
		subscribers: []*Ticket{t},
	}
	t.job = j
	q.inflight[fingerprint] = j
	heap.Push(&q.pending, j)
	q.cond.Signal()
	return t, false, nil
}

// CancelOutcome reports what Cancel did.
type CancelOutcome int

const (
	// CancelNotFound means the ticket is unknown or already terminal.
	CancelNotFound CancelOutcome = iota
	// CancelRemoved means the ticket was queued and is now cancelled.
	CancelRemoved
	// CancelAdvisory means the ticket is processing. Nothing changes: the
	// dispatch runs on and the ticket ends with its result.
	CancelAdvisory
)

// Cancel cancels a caller's ticket. Only a queued ticket can be cancelled;
// its job is removed once its last subscriber cancels.
func (q *Queue) Cancel(ticketID string) CancelOutcome {
	now := q.clock.Now()

	q.mu.Lock()
	t, ok := q.tickets[ticketID]
	if !ok || t.result.Status.IsTerminal() {
		q.mu.Unlock()
		return CancelNotFound
	}
	j := t.job
	if j.state == stateProcessing {
		q.mu.Unlock()
		return CancelAdvisory
	}
	j.subscribers = removeTicket(j.subscribers, t)
	if len(j.subscribers) == 0 {
		heap.Remove(&q.pending, j.index)
		delete(q.inflight, j.fingerprint)
		j.state = stateDone
		q.cancelled.Add(1)
	}
	t.result.Error = genErrors.NewCancelledError("cancelled before dispatch")
	_ = t.result.Transition(types.StatusCancelled, now)
	q.mu.Unlock()

	q.finishTicket(t)
	return CancelRemoved
}

// Wait blocks until the ticket is terminal or ctx is done.
func (q *Queue) Wait(ctx context.Context, t *Ticket) (*types.GenerationResult, error) {
	select {
	case <-t.done:
		return t.result.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the current state of a live ticket.
func (q *Queue) Snapshot(ticketID string) (*types.GenerationResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return nil, false
	}
	return t.result.Clone(), true
}

// Position returns the 1-based dequeue position of a queued ticket, or 0 if
// it is not waiting.
func (q *Queue) Position(ticketID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok || t.job.state != stateQueued {
		return 0
	}
	pos := 1
	for _, other := range q.pending {
		if other != t.job && other.before(t.job) {
			pos++
		}
	}
	return pos
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	waiting, active := len(q.pending), q.active
	q.mu.Unlock()
	return Stats{
		Waiting:      waiting,
		Active:       active,
		Completed:    q.completed.Load(),
		Failed:       q.failed.Load(),
		Cancelled:    q.cancelled.Load(),
		Deduplicated: q.deduplicated.Load(),
	}
}

// Close stops admission, cancels waiting jobs and waits for in-flight
// dispatches to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	now := q.clock.Now()
	var orphans []*Ticket
	for q.pending.Len() > 0 {
		j := heap.Pop(&q.pending).(*job)
		j.state = stateDone
		delete(q.inflight, j.fingerprint)
		q.cancelled.Add(1)
		for _, t := range j.subscribers {
			t.result.Error = genErrors.NewCancelledError("queue closed before dispatch")
			_ = t.result.Transition(types.StatusCancelled, now)
			orphans = append(orphans, t)
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, t := range orphans {
		q.finishTicket(t)
	}

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		j := q.next()
		if j == nil {
			return
		}
		q.run(j)
	}
}

// next blocks until a job is available or the queue is closed.
func (q *Queue) next() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.pending.Len() == 0 {
		return nil
	}

	j := heap.Pop(&q.pending).(*job)
	j.state = stateProcessing
	q.active++
	now := q.clock.Now()
	for _, t := range j.subscribers {
		_ = t.result.Transition(types.StatusProcessing, now)
	}
	return j
}

func (q *Queue) run(j *job) {
	res := q.safeDispatch(j)
	now := q.clock.Now()

	q.mu.Lock()
	q.active--
	j.state = stateDone
	delete(q.inflight, j.fingerprint)
	subs := j.subscribers
	j.subscribers = nil
	for _, t := range subs {
		out := res.Clone()
		out.ID = t.ID
		out.RequestID = t.RequestID
		out.CreatedAt = t.result.CreatedAt
		out.UpdatedAt = now
		out.CompletedAt = &now
		out.Metadata.Fingerprint = j.fingerprint
		t.result = out
	}
	q.mu.Unlock()

	if res.Status == types.StatusCompleted {
		q.completed.Add(1)
	} else {
		q.failed.Add(1)
	}

	for _, t := range subs {
		q.finishTicket(t)
	}
}

// safeDispatch turns a panicking or empty dispatch into a failed result.
func (q *Queue) safeDispatch(j *job) (res *types.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch panicked", "fingerprint", j.fingerprint, "panic", r)
			res = failed(genErrors.NewInternalError("", "dispatch panicked"))
		}
	}()
	res = q.dispatch(q.ctx, j.req, j.fingerprint)
	if res == nil || !res.Status.IsTerminal() || res.Status == types.StatusCancelled {
		return failed(genErrors.NewInternalError("", "dispatch returned no terminal result"))
	}
	return res
}

// finishTicket publishes a terminal ticket. The ticket stays visible to
// Snapshot until onFinish has run, so a poller never falls between the two.
// t.result is not written again once terminal.
func (q *Queue) finishTicket(t *Ticket) {
	if q.onFinish != nil {
		q.onFinish(t, t.result.Clone())
	}
	q.mu.Lock()
	delete(q.tickets, t.ID)
	q.mu.Unlock()
	close(t.done)
}

func failed(err *genErrors.GenerationError) *types.GenerationResult {
	return &types.GenerationResult{Status: types.StatusFailed, Error: err}
}

func removeTicket(list []*Ticket, t *Ticket) []*Ticket {
	for i, x := range list {
		if x == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
