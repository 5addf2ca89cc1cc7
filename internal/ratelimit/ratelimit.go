// Package ratelimit throttles inbound webhook senders with per-client token buckets.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	ratelib "golang.org/x/time/rate"

	"github.com/zep-us/alert-relay/internal/metrics"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// DefaultIdleTTL is how long a client bucket is kept after its last request
const DefaultIdleTTL = 10 * time.Minute

type entry struct {
	lim      *ratelib.Limiter
	lastSeen time.Time
}

// Limiter manages a collection of token bucket rate limiters keyed by client.
// Buckets idle for longer than the TTL are dropped by Prune.
type Limiter struct {
	rps     ratelib.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	// mu protects the limiters map and each entry's lastSeen
	mu       sync.Mutex
	limiters map[string]*entry
}

// NewLimiter creates a Limiter allowing rps requests per second per key with the given burst.
// idleTTL <= 0 selects DefaultIdleTTL.
func NewLimiter(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Limiter{
		rps:      ratelib.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		limiters: make(map[string]*entry),
	}
}

// Allow reports whether a request for key may proceed now
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{lim: ratelib.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.lim.AllowN(now, 1)
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Prune removes buckets not used within the idle TTL and returns how many were removed
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle buckets every half TTL until ctx is done
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				logger.Debug("rate limiter pruned %d idle clients", n)
			}
		}
	}
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
// The key is c.RealIP(), so the Echo instance's IPExtractor decides whether
// forwarding headers are trusted.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !l.Allow(ip) {
				metrics.RateLimitedCounter.Inc()
				logger.Warn("rate limit exceeded for %s on %s", ip, c.Request().URL.Path)
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"status":  "error",
					"message": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}
