// Package resilience provides per-provider admission control: request rate
// limits per minute and per hour plus a bound on concurrent dispatches.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/genmux/pkg/provider"
)

// Gate admits dispatches to one provider. A zero limit is unlimited.
type Gate struct {
	perMinute     *rate.Limiter
	perHour       *rate.Limiter
	maxConcurrent int

	mu     sync.Mutex
	active int
}

// NewGate creates a gate enforcing limits.
func NewGate(limits provider.RateLimits) *Gate {
	return &Gate{
		perMinute:     newLimiter(limits.PerMinute, time.Minute),
		perHour:       newLimiter(limits.PerHour, time.Hour),
		maxConcurrent: limits.MaxConcurrent,
	}
}

func newLimiter(n int, window time.Duration) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(n)/window.Seconds()), n)
}

// Available reports whether a dispatch would be admitted now, without
// consuming anything.
func (g *Gate) Available() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxConcurrent > 0 && g.active >= g.maxConcurrent {
		return false
	}
	now := time.Now()
	return hasToken(g.perMinute, now) && hasToken(g.perHour, now)
}

func hasToken(l *rate.Limiter, now time.Time) bool {
	return l == nil || l.TokensAt(now) >= 1
}

// Acquire admits one dispatch. The returned release must be called when the
// dispatch finishes. ok is false when a limit is reached.
func (g *Gate) Acquire() (release func(), ok bool) {
	if g == nil {
		return func() {}, true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxConcurrent > 0 && g.active >= g.maxConcurrent {
		return nil, false
	}

	now := time.Now()
	minute := reserve(g.perMinute, now)
	if minute == nil {
		return nil, false
	}
	hour := reserve(g.perHour, now)
	if hour == nil {
		minute.CancelAt(now)
		return nil, false
	}

	g.active++
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active--
			g.mu.Unlock()
		})
	}, true
}

// reserve takes one token now or returns nil. An unlimited limiter yields a
// no-op reservation.
func reserve(l *rate.Limiter, now time.Time) *rate.Reservation {
	if l == nil {
		return noopReservation
	}
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return nil
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil
	}
	return r
}

var noopReservation = rate.NewLimiter(rate.Inf, 0).Reserve()

// Active returns the number of admitted dispatches still running.
func (g *Gate) Active() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
