package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// General and StrategyRun are the two rate-limit tiers of spec.md §6.
const (
	GeneralMaxRequests     = 100
	GeneralWindow          = 60 * time.Second
	StrategyRunMaxRequests = 5
	StrategyRunWindow      = 60 * time.Second
)

type rateLimiterEntry struct {
	requests []time.Time
	mu       sync.Mutex
}

// RateLimiter is a sliding-window limiter keyed by an arbitrary string (a
// bearer token when present, otherwise the client address, per spec.md §6).
type RateLimiter struct {
	entries     sync.Map // map[string]*rateLimiterEntry
	maxRequests int
	window      time.Duration
	name        string
}

// NewRateLimiter creates a limiter allowing maxRequests per window per key.
func NewRateLimiter(name string, maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{maxRequests: maxRequests, window: window, name: name}
}

type rateLimitInfo struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (rl *RateLimiter) check(key string) rateLimitInfo {
	now := time.Now()

	val, _ := rl.entries.LoadOrStore(key, &rateLimiterEntry{requests: make([]time.Time, 0, rl.maxRequests)})
	entry := val.(*rateLimiterEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cutoff := now.Add(-rl.window)
	valid := make([]time.Time, 0, len(entry.requests))
	var oldest time.Time
	for _, t := range entry.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
	}
	entry.requests = valid

	resetAt := now.Add(rl.window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(rl.window)
	}

	if len(entry.requests) >= rl.maxRequests {
		log.Debug().Str("key", key).Str("limiter", rl.name).Msg("rate limit exceeded")
		return rateLimitInfo{Allowed: false, Limit: rl.maxRequests, Remaining: 0, ResetAt: resetAt}
	}

	entry.requests = append(entry.requests, now)
	return rateLimitInfo{Allowed: true, Limit: rl.maxRequests, Remaining: rl.maxRequests - len(entry.requests), ResetAt: resetAt}
}

// rateLimitKey is the user id set by the auth middleware when it has already
// run (the strategy-run limiter), otherwise the token-or-client-address key
// (the general limiter, which runs before auth).
func rateLimitKey(c *gin.Context) string {
	if uid := c.GetString("user_id"); uid != "" {
		return "user:" + uid
	}
	if token := bearerToken(c.GetHeader("Authorization")); token != "" {
		return "token:" + token
	}
	return "addr:" + c.ClientIP()
}

// Middleware applies this limiter to every request it wraps, raising a 429
// immediately on breach without queueing, per spec.md §5.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := rl.check(rateLimitKey(c))

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetAt.Unix()))

		if !info.Allowed {
			retryAfter := int(time.Until(info.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
