package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"cargo_portal/internal/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 3 * time.Minute
	limiterIdleTTL         = 5 * time.Minute
)

// ipLimiter holds a rate limiter and the last time it was seen.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides IP-based rate limiting for the sign-in endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a new per-IP rate limiter.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

// getLimiter returns the rate limiter for the given IP, creating one if needed.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, exists := rl.limiters[ip]; exists {
		l.lastSeen = rl.now()
		return l.limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: rl.now()}
	return limiter
}

// Cleanup drops limiters idle for longer than the idle TTL.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.limiters {
		if rl.now().Sub(l.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, ip)
		}
	}
}

// Run calls Cleanup periodically until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Middleware returns a Gin middleware that enforces the rate limit and
// answers rejected requests with a JSON error.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return rl.MiddlewareWith(func(c *gin.Context) {
		common.RespondWithError(c, common.ErrTooManyRequests)
	})
}

// MiddlewareWith enforces the rate limit and lets onLimited write the
// rejection. Retry-After is set before onLimited runs and the chain is
// aborted after it.
func (rl *RateLimiter) MiddlewareWith(onLimited gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.getLimiter(c.ClientIP())

		if !limiter.Allow() {
			retryAfter := max(int(math.Ceil(1.0/float64(rl.rate))), 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			onLimited(c)
			c.Abort()
			return
		}

		c.Next()
	}
}
