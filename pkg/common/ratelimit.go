// Package common provides small shared utilities: the outbound rate limiter
// and the debug/observability mux.
package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter caps the aggregate request rate against a quota-limited remote
// API. One limiter is shared by every concurrent caller so fan-out inside a
// shard can never exceed the remote quota, and the limits can be adjusted at
// runtime when the remote signals pressure.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewRateLimiter creates a RateLimiter allowing rps sustained requests per
// second with the given burst headroom.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter admits one request or the context is
// canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits adjusts the sustained rate and burst size for all callers.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(burst)
}
