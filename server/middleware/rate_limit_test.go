package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	t.Run("PerKeyBurst", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)
		assert.True(t, rl.Allow("a"))
		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"), "keys are limited independently")
	})

	t.Run("Defaults", func(t *testing.T) {
		rl := NewRateLimiter(0, 0, WithMaxClients(-1))
		assert.Equal(t, DefaultBurst, rl.burst)
		assert.Equal(t, DefaultMaxClients, rl.maxClients)
	})

	t.Run("IdleClientsEvicted", func(t *testing.T) {
		rl := NewRateLimiter(1, 1, WithMaxClients(2))
		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))

		assert.True(t, rl.Allow("b"))
		assert.True(t, rl.Allow("c"))
		assert.Equal(t, 2, rl.Clients())

		assert.True(t, rl.Allow("a"), "evicted client starts with a full burst")
		assert.Equal(t, 2, rl.Clients())
		assert.False(t, rl.Allow("c"), "recently seen client keeps its limiter")
	})

	t.Run("MiddlewareRejectsOverLimit", func(t *testing.T) {
		e := echo.New()
		rl := NewRateLimiter(1, 1)
		e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, rl.Middleware())

		codes := make([]int, 0, 2)
		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			e.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	})
}
