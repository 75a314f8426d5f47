// Package ratelimit implements token-bucket admission control. Permits
// accumulate at a fixed rate up to a burst capacity and are consumed per
// request; Wait polls with a capped sleep until permits are available.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// maxPollInterval caps how long Wait sleeps between acquire attempts.
const maxPollInterval = time.Second

// Limiter is a token bucket safe for concurrent use.
//
// Invariant: tokens stays within [0, capacity] at all times.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// New creates a limiter refilling at rate tokens per second with the given
// burst capacity. The bucket starts full.
func New(rate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if rate <= 0 {
		rate = 1
	}
	return &Limiter{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Acquire attempts to take n tokens without blocking and reports success.
// Tokens are refilled by elapsed time times rate, capped at capacity, before
// the subtraction.
func (l *Limiter) Acquire(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())
	need := float64(n)
	if l.tokens < need {
		return false
	}
	l.tokens -= need
	return true
}

// Wait blocks until n tokens could be acquired or ctx is done. It polls
// Acquire, sleeping the estimated time until enough tokens accumulate but
// never longer than one second per attempt.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	for {
		if l.Acquire(n) {
			return nil
		}

		sleep := l.estimate(n)
		if sleep > maxPollInterval {
			sleep = maxPollInterval
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count after refill. Intended for
// introspection and tests.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return l.tokens
}

// estimate returns the expected wait until n tokens are available.
func (l *Limiter) estimate(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	missing := float64(n) - l.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / l.refillRate * float64(time.Second))
}

// refillLocked adds elapsed*rate tokens capped at capacity. Caller must hold
// the mutex.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = now
}
