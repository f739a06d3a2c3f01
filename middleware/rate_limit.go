package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"yba-auth/internal/domain"
)

const (
	limiterSweepInterval = 3 * time.Minute
	limiterIdleAfter     = 5 * time.Minute
)

// KeyFunc selects the bucket a request is counted against.
type KeyFunc func(c echo.Context) string

// ByIP buckets requests by client address.
func ByIP(c echo.Context) string { return c.RealIP() }

// BySession buckets requests by mini app session, falling back to the
// client address before SessionID has run.
func BySession(c echo.Context) string {
	if sid := SessionFrom(c); sid != "" {
		return "sid:" + sid
	}
	return "ip:" + c.RealIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	key     KeyFunc
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a limiter keyed by client IP.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return NewKeyedRateLimiter(r, burst, ByIP)
}

// NewKeyedRateLimiter creates a limiter keyed by key.
func NewKeyedRateLimiter(r rate.Limit, burst int, key KeyFunc) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		key:     key,
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Close stops the sweeper.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	b := &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst), lastSeen: now}
	rl.buckets[key] = b
	return b.limiter
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdleAfter {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// retryAfterSeconds is the wait for one token, at least one second.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.rate <= 0 || rl.rate == rate.Inf {
		return 1
	}
	return max(int(math.Ceil(1/float64(rl.rate))), 1)
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.limiterFor(rl.key(c)).Allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded").SetInternal(domain.ErrRateLimited)
			}
			return next(c)
		}
	}
}
