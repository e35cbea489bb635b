// Package ratelimit provides attempt counting over sliding windows, keyed
// by client identifier. Two implementations share one contract: an
// in-process limiter for single-instance deployments and a Redis-backed
// limiter giving all serving instances a consistent view of the counters.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter counts attempts per key within a trailing window.
type Limiter interface {
	// Allow records an attempt for key and reports whether the
	// post-increment count is within max for the current window. A window
	// that has fully elapsed restarts with this attempt as count 1.
	Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error)
	// Remaining reports max minus the current count without recording an
	// attempt. Never negative.
	Remaining(ctx context.Context, key string, max int) (int, error)
	// Reset clears the counters for key, forgiving prior attempts.
	Reset(ctx context.Context, key string) error
}

// sweepProbability is the chance that a call to Allow also sweeps expired
// windows, bounding memory without a timer goroutine.
const sweepProbability = 0.01

// windowState tracks one (key, window) pair.
type windowState struct {
	windowStart time.Time
	window      time.Duration
	count       int
	// attempts keeps the individual timestamps inside the open window so
	// Remaining can answer without mutating.
	attempts []time.Time
}

// WindowLimiter is the in-memory Limiter. State is per process; use
// RedisLimiter when more than one instance serves traffic.
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowState

	now  func() time.Time
	rand func() float64
}

// NewWindowLimiter creates an in-memory limiter.
func NewWindowLimiter() *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*windowState),
		now:     time.Now,
		rand:    rand.Float64,
	}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(_ context.Context, key string, max int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if l.rand() < sweepProbability {
		l.sweepLocked(now)
	}

	state, ok := l.windows[key]
	// A request arriving exactly at the boundary starts a fresh window.
	if !ok || now.Sub(state.windowStart) >= state.window {
		l.windows[key] = &windowState{
			windowStart: now,
			window:      window,
			count:       1,
			attempts:    []time.Time{now},
		}
		return max >= 1, nil
	}

	state.count++
	state.attempts = append(state.attempts, now)
	return state.count <= max, nil
}

// Remaining implements Limiter.
func (l *WindowLimiter) Remaining(_ context.Context, key string, max int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || l.now().Sub(state.windowStart) >= state.window {
		return max, nil
	}

	remaining := max - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset implements Limiter.
func (l *WindowLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

// Len reports how many keys are currently tracked.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweepLocked drops any key whose window has fully elapsed.
func (l *WindowLimiter) sweepLocked(now time.Time) {
	for key, state := range l.windows {
		if now.Sub(state.windowStart) >= state.window {
			delete(l.windows, key)
		}
	}
}
