package middleware

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond is the sustained request rate per client.
	DefaultRequestsPerSecond = 10
	// DefaultBurst is the number of requests a client may make back to back.
	DefaultBurst = 20
	// DefaultMaxClients bounds how many client keys are tracked at once.
	DefaultMaxClients = 10000
)

// RateLimiter limits requests per client key. The least recently seen keys
// are evicted once maxClients is reached; an evicted client starts over with
// a full burst.
type RateLimiter struct {
	mu         sync.Mutex
	limits     *lru.Cache[string, *rate.Limiter]
	every      time.Duration
	burst      int
	maxClients int
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxClients sets the number of tracked client keys. Non-positive values
// keep DefaultMaxClients.
func WithMaxClients(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxClients = n
		}
	}
}

// NewRateLimiter creates a rate limiter allowing perSecond requests with the
// given burst per key. Non-positive values take the defaults.
func NewRateLimiter(perSecond, burst int, opts ...RateLimiterOption) *RateLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	rl := &RateLimiter{
		every:      time.Second / time.Duration(perSecond),
		burst:      burst,
		maxClients: DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(rl)
	}
	// lru.New only fails on a non-positive size.
	rl.limits, _ = lru.New[string, *rate.Limiter](rl.maxClients)
	return rl
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(rl.every), rl.burst)
	rl.limits.Add(key, limiter)
	return limiter
}

// Clients returns the number of client keys currently tracked.
func (rl *RateLimiter) Clients() int {
	return rl.limits.Len()
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
