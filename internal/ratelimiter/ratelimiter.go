// Package ratelimiter throttles request handling with token buckets.
//
// The content server keeps one bucket per requester so one aggressive mirror
// cannot starve the others; the mirror server keeps one bucket per content
// server to cap its outbound fetch rate.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket. A nil *RateLimiter never limits.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with bursts
// of up to burst requests.
//
// requestsPerSecond = 0 disables limiting. burst = 0 defaults to
// requestsPerSecond.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Tokens returns the tokens currently available. Informational only.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return 0
	}
	return r.limiter.Tokens()
}

// Keyed hands out one RateLimiter per key, created on first use with the
// same rate and burst. Buckets idle for longer than the idle timeout are
// dropped by Sweep.
type Keyed[K comparable] struct {
	rps   uint
	burst uint
	idle  time.Duration

	mu      sync.Mutex
	buckets map[K]*keyedBucket
}

type keyedBucket struct {
	limiter  *RateLimiter
	lastUsed time.Time
}

// NewKeyed creates a keyed limiter. idle <= 0 keeps buckets forever.
func NewKeyed[K comparable](requestsPerSecond, burst uint, idle time.Duration) *Keyed[K] {
	return &Keyed[K]{
		rps:     requestsPerSecond,
		burst:   burst,
		idle:    idle,
		buckets: make(map[K]*keyedBucket),
	}
}

// Get returns the bucket for key.
func (k *Keyed[K]) Get(key K) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		b = &keyedBucket{limiter: New(k.rps, k.burst)}
		k.buckets[key] = b
	}
	b.lastUsed = time.Now()
	return b.limiter
}

// Wait blocks until key's bucket yields a token.
func (k *Keyed[K]) Wait(ctx context.Context, key K) error {
	if k.rps == 0 {
		return ctx.Err()
	}
	return k.Get(key).Wait(ctx)
}

// Sweep drops buckets unused since the idle timeout and returns how many
// were removed.
func (k *Keyed[K]) Sweep(now time.Time) int {
	if k.idle <= 0 {
		return 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, b := range k.buckets {
		if now.Sub(b.lastUsed) > k.idle {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
