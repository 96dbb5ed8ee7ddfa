// Package ratelimit implements the token-bucket admission gate shared by
// the dispatcher's global and per-endpoint rate limits.
//
// Design: classic token bucket with lazy refill. No background goroutine
// ticks the bucket; instead each Acquire call computes elapsed time since
// the last refill and tops up tokens accordingly, clamped to burst. This
// mirrors the daemon's own admission loop, which just calls Acquire and
// blocks until a token is available rather than polling a ticker.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket rate limiter. The zero value is not usable; use
// New. A Bucket with ratePerSec <= 0 is unlimited: Acquire returns
// immediately and never blocks.
type Bucket struct {
	mu sync.Mutex

	ratePerSec float64
	burst      float64

	tokens     float64
	lastRefill time.Time

	now func() time.Time // overridable for tests
}

// New creates a Bucket that admits ratePerSec tokens per second up to a
// maximum of burst tokens. The bucket starts full.
func New(ratePerSec, burst float64) *Bucket {
	return &Bucket{
		ratePerSec: ratePerSec,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Acquire blocks until a single token has been consumed, then returns the
// duration it waited. A disabled bucket (ratePerSec <= 0) returns 0
// immediately.
//
// The bucket's lock is never held while sleeping: Acquire computes the
// precise deficit, releases the lock, sleeps, then retries the refill
// check. This keeps concurrent callers from serializing behind a single
// long sleep.
func (b *Bucket) Acquire() time.Duration {
	if b.ratePerSec <= 0 {
		return 0
	}

	var waited time.Duration
	for {
		b.mu.Lock()
		b.refillLocked()

		if b.tokens >= 1.0 {
			b.tokens -= 1.0
			b.mu.Unlock()
			return waited
		}

		deficit := 1.0 - b.tokens
		wait := time.Duration(deficit / b.ratePerSec * float64(time.Second))
		b.mu.Unlock()

		time.Sleep(wait)
		waited += wait
	}
}

// refillLocked tops up tokens based on elapsed time since the last refill.
// Caller must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// Tokens returns the current token count for diagnostics (status responses,
// tests). It triggers a refill as a side effect.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
