package util

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

var (
	// DefaultRate is the default minimum time between requests
	DefaultRate = 200 * time.Millisecond
	// DefaultBurst is the default burst size
	DefaultBurst = 5
)

// RateLimiter implements a token bucket rate limiter with dynamic rate adjustment.
// API clients share one limiter per upstream service so that catalog enumeration
// and writeback traffic are throttled together.
type RateLimiter struct {
	mu           sync.Mutex
	last         time.Time
	rate         time.Duration
	minRate      time.Duration
	maxRate      time.Duration
	tokens       int
	maxTokens    int
	lastRateDrop time.Time
}

// NewRateLimiter creates a new RateLimiter.
// rate is the minimum time between requests, burst is the maximum number of
// tokens that can be consumed at once.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &RateLimiter{
		last:         time.Now(),
		rate:         rate,
		minRate:      rate,
		maxRate:      5 * time.Second,
		tokens:       burst,
		maxTokens:    burst,
		lastRateDrop: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()

	now := time.Now()

	// Add tokens based on time passed
	delta := now.Sub(r.last)
	newTokens := int(float64(delta) / float64(r.rate))
	if newTokens > 0 {
		r.tokens += newTokens
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.last = now
	}

	if r.tokens > 0 {
		r.tokens--
		r.mu.Unlock()
		return nil
	}

	// Wait time with jitter (up to 20% of rate)
	waitTime := r.rate + time.Duration(rand.Float64()*0.2*float64(r.rate))
	next := r.last.Add(waitTime)

	r.mu.Unlock()

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.mu.Lock()
		r.last = next
		r.tokens = 0
		r.mu.Unlock()
		return nil
	}
}

// OnRateLimit is called when the upstream service reports a rate limit.
// It increases the delay between subsequent requests and returns the time to wait.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	// Recent repeated limits get a more aggressive backoff
	if now.Sub(r.lastRateDrop) < 5*time.Minute {
		r.rate = time.Duration(1.5 * float64(r.rate))
	} else {
		r.rate = time.Duration(1.2 * float64(r.rate))
	}

	if r.rate > r.maxRate {
		r.rate = r.maxRate
	}

	r.lastRateDrop = now
	r.tokens = 0

	if retryAfter > 0 {
		return retryAfter
	}
	return r.rate
}

// OnSuccess is called after a successful request and slowly relaxes the rate
// back toward the configured minimum.
func (r *RateLimiter) OnSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rate <= r.minRate {
		return
	}
	if time.Since(r.lastRateDrop) > time.Minute {
		r.rate = time.Duration(0.9 * float64(r.rate))
		if r.rate < r.minRate {
			r.rate = r.minRate
		}
	}
}

// Rate returns the current minimum time between requests
func (r *RateLimiter) Rate() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}
