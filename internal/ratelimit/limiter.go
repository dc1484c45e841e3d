// Package ratelimit implements per-actor sliding-window submission limits.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between stale-actor sweeps.
const sweepEvery = 100

// Limiter admits at most limit requests per actor in any trailing window.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string][]time.Time
	calls   int
	nowFunc func() time.Time
}

// New panics on a non-positive limit or window; both come from validated config.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 || window <= 0 {
		panic(fmt.Sprintf("ratelimit: invalid limit %d per %s", limit, window))
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// WithClock replaces the time source. Tests use it to move time by hand.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.nowFunc = now
	return l
}

func (l *Limiter) Limit() int { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether actorID may submit now. Only admitted attempts are recorded,
// so a rejected caller does not push its own reset further out.
func (l *Limiter) Allow(actorID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	ts := l.prune(actorID, now)
	if len(ts) >= l.limit {
		return false
	}
	l.windows[actorID] = append(ts, now)
	return true
}

// Remaining is the number of submissions actorID has left in the current window.
func (l *Limiter) Remaining(actorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.limit - len(l.prune(actorID, l.nowFunc()))
	if n < 0 {
		return 0
	}
	return n
}

// ResetTime is when the oldest tracked submission leaves the window, or now when
// nothing is tracked.
func (l *Limiter) ResetTime(actorID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFunc()
	ts := l.prune(actorID, now)
	if len(ts) == 0 {
		return now
	}
	return ts[0].Add(l.window)
}

// Len is the number of actors currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// prune drops timestamps that are a full window old or older. Timestamps are
// appended in order so the live ones are always a suffix.
func (l *Limiter) prune(actorID string, now time.Time) []time.Time {
	ts, ok := l.windows[actorID]
	if !ok {
		return nil
	}
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= l.window {
		i++
	}
	if i == len(ts) {
		delete(l.windows, actorID)
		return nil
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		l.windows[actorID] = ts
	}
	return ts
}

func (l *Limiter) sweep(now time.Time) {
	for actor := range l.windows {
		l.prune(actor, now)
	}
}
