// Package rate paces outgoing requests to a global requests-per-second budget.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a leaky bucket shared by every VU of a run.
//
// Each Reserve call claims the next free slot on a virtual timeline that
// advances by 1/rate per request. Callers that are behind schedule get a
// slot immediately; callers that are ahead are told how long to wait. No
// burst is carried over, so raising the VU count never releases a flood of
// requests that were "saved up" earlier.
//
// A nil *Limiter never blocks.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	interval time.Duration
	next     time.Time

	reserved atomic.Int64
	waited   atomic.Int64

	now func() time.Time
}

// New returns a limiter allowing rps requests per second. It returns nil
// when rps <= 0, meaning unlimited.
func New(rps float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	return &Limiter{
		rate:     rps,
		interval: intervalFor(rps),
		now:      time.Now,
	}
}

func intervalFor(rps float64) time.Duration {
	return time.Duration(float64(time.Second) / rps)
}

// Reserve claims a slot and returns how long the caller must wait before
// using it.
func (l *Limiter) Reserve() time.Duration {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	now := l.now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.interval)
	l.mu.Unlock()

	wait := slot.Sub(now)
	l.reserved.Add(1)
	if wait > 0 {
		l.waited.Add(int64(wait))
	}
	return wait
}

// Wait blocks until the caller's slot arrives or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	wait := l.Reserve()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the budget. Pending reservations keep their slots;
// the new interval applies from the next reservation on.
func (l *Limiter) SetRate(rps float64) {
	if l == nil || rps <= 0 {
		return
	}
	l.mu.Lock()
	l.rate = rps
	l.interval = intervalFor(rps)
	l.mu.Unlock()
}

// Rate returns the current budget in requests per second, or 0 for a nil
// limiter.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Stats describes limiter activity.
type Stats struct {
	Rate      float64       `json:"rate"`
	Reserved  int64         `json:"reserved"`
	TotalWait time.Duration `json:"totalWait"`
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Rate:      l.Rate(),
		Reserved:  l.reserved.Load(),
		TotalWait: time.Duration(l.waited.Load()),
	}
}
