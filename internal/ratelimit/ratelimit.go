// Package ratelimit implements the token bucket that paces GitHub code
// search requests. The search quota is per minute, so the bucket refills
// continuously at capacity/60 tokens per second and additionally adapts to
// the rate limit headers returned by the API.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a mutex-guarded token bucket. All state transitions (refill,
// decrement, adapt) happen under one lock so concurrent callers never
// observe a partially refilled bucket.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	// now and sleep are swapped out by tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a bucket sized for tokensPerMinute requests, starting full.
func New(tokensPerMinute int) *Bucket {
	cap := float64(tokensPerMinute)
	return &Bucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: cap / 60.0,
		lastRefill: time.Now(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Acquire blocks until a token is available or the timeout elapses. It
// returns false on timeout so callers can stop paginating instead of
// hanging a whole scan on the search quota.
func (b *Bucket) Acquire(timeout time.Duration) bool {
	deadline := b.now().Add(timeout)
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return true
		}
		b.mu.Unlock()

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return false
		}
		wait := time.Second
		if remaining < wait {
			wait = remaining
		}
		b.sleep(wait)
	}
}

// Adapt applies the X-RateLimit-Remaining / X-RateLimit-Reset feedback from
// an API response. When the server-side quota is nearly exhausted the
// bucket drains and sleeps through the reset window while holding the lock,
// which stalls every concurrent caller until the quota is back.
func (b *Bucket) Adapt(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining <= 2 {
		b.tokens = 0
		if wait := resetAt.Sub(b.now()); wait > 0 {
			b.sleep(wait + time.Second)
		}
		b.tokens = b.capacity
		b.lastRefill = b.now()
		return
	}
	if remaining < 5 && b.tokens > 1 {
		b.tokens = 1
	}
}

// Available reports the current token count after a refill pass.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
