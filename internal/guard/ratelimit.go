// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package guard

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/petwell/internal/clock"
)

// ErrRateLimited is returned when an identifier exceeds its request rate.
var ErrRateLimited = errors.New("too many login attempts, slow down")

// idleTTL is how long an unused bucket is kept.
const idleTTL = 30 * time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per identifier.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	clk     clock.Clock
}

// NewRateLimiter allows perMinute events per identifier with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	lim := rate.Inf
	if perMinute > 0 {
		lim = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   lim,
		burst:   burst,
		clk:     clk,
	}
}

// Allow consumes one token for identifier.
func (r *RateLimiter) Allow(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	b, ok := r.buckets[identifier]
	if !ok {
		r.evictLocked(now)
		b = &bucket{lim: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[identifier] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked identifiers.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for id, b := range r.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(r.buckets, id)
		}
	}
}
