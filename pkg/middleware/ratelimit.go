package middleware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/recon-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// RateLimitOptions configure a fixed-window limiter for a route group.
type RateLimitOptions struct {
	Window time.Duration
	Max    int
}

type rateWindow struct {
	count     int
	resetTime time.Time
}

// RateLimiter is a fixed-window request counter keyed by
// (client, route). Windows reset at fixed boundaries, so bursts
// straddling a boundary can pass twice the nominal rate; that is the
// accepted approximation, not a bug.
//
// Constructed once at startup and injected rather than held in
// package-level maps.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]*rateWindow)}
}

// Middleware admits or rejects requests against the fixed window. A
// rejection carries the remaining window time as retry guidance.
func (rl *RateLimiter) Middleware(opts RateLimitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}
		key := clientID + ":" + c.FullPath()

		allowed, retryAfter := rl.allow(key, opts)
		if !allowed {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.", retryAfter)
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(key string, opts RateLimitOptions) (bool, int) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, ok := rl.windows[key]
	if !ok || now.After(window.resetTime) {
		rl.windows[key] = &rateWindow{count: 1, resetTime: now.Add(opts.Window)}
		return true, 0
	}

	if window.count >= opts.Max {
		retryAfter := int(math.Ceil(window.resetTime.Sub(now).Seconds()))
		return false, retryAfter
	}

	window.count++
	return true, 0
}

// Sweep removes expired windows periodically to bound memory. Blocks
// until ctx is done; run it in its own goroutine.
func (rl *RateLimiter) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, window := range rl.windows {
				if now.After(window.resetTime) {
					delete(rl.windows, key)
				}
			}
			remaining := len(rl.windows)
			rl.mu.Unlock()
			log.Debug().Int("active_windows", remaining).Msg("swept expired rate limit windows")
		}
	}
}
