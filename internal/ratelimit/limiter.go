package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is sliding-window admission control in front of a single remote
// dependency. All workers of one client share a single Limiter; it must never
// be shared across unrelated clients.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time // admission timestamps, oldest first
}

// New creates a Limiter admitting at most maxCalls calls within any trailing
// window.
func New(maxCalls int, window time.Duration) *Limiter {
	if maxCalls < 1 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
	}
}

// Acquire blocks the calling worker until admitting one more call would not
// exceed the configured limit, or until ctx is cancelled. The lock is released
// while sleeping so other workers are not held up behind a waiting caller.
// There are no other error conditions: an uncancelled Acquire always
// eventually admits.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		if wait <= 0 {
			// The oldest entry is about to age out; re-check immediately.
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns the number of admissions still inside the trailing window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())
	return len(l.calls)
}

// evict drops timestamps older than the trailing window. Caller must hold mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
