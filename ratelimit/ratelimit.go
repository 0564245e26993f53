// Package ratelimit paces outbound gallery API calls
package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces outbound requests and slows down when the remote
// signals throttling. The pipeline never retries a failed call, so there
// is no retry loop here: callers Wait before each request and report
// throttle responses via Throttled so subsequent requests back off.
type RateLimiter struct {
	limiter      *rate.Limiter
	mu           sync.Mutex
	throttleHits int
	currentDelay time.Duration
	config       *Config
}

// Config holds rate limiter configuration
type Config struct {
	RequestDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultConfig returns the default pacing configuration
func DefaultConfig() *Config {
	return &Config{
		RequestDelay:      150 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *Config) *RateLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rps := float64(time.Second) / float64(cfg.RequestDelay)

	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		currentDelay: cfg.RequestDelay,
		config:       cfg,
	}
}

// Wait blocks until the limiter allows the next request
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Throttled reports whether err looks like a remote throttle response and,
// if so, slows the limiter with exponential backoff up to MaxDelay
func (r *RateLimiter) Throttled(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "429") && !strings.Contains(errStr, "rate limit") {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.throttleHits++

	newDelay := time.Duration(math.Min(
		float64(r.config.RequestDelay)*math.Pow(r.config.BackoffMultiplier, float64(r.throttleHits)),
		float64(r.config.MaxDelay),
	))

	if newDelay > r.currentDelay {
		r.currentDelay = newDelay
		r.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(newDelay)))
	}

	return true
}

// Success resets the backoff to the configured base delay
func (r *RateLimiter) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.throttleHits > 0 {
		r.throttleHits = 0
		r.currentDelay = r.config.RequestDelay
		r.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(r.config.RequestDelay)))
	}
}

// CurrentDelay returns the effective delay between requests
func (r *RateLimiter) CurrentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentDelay
}
