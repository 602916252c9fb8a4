package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(cfg Config) (*fiber.App, *RateLimiter) {
	rl := New(cfg)
	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app, rl
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	app, rl := newTestApp(Config{RequestsPerMinute: 60, Burst: 5})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i)
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	app, rl := newTestApp(Config{RequestsPerMinute: 60, Burst: 2})
	defer rl.Stop()

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}

	assert.Equal(t, fiber.StatusOK, codes[0])
	assert.Equal(t, fiber.StatusOK, codes[1])
	assert.Equal(t, fiber.StatusTooManyRequests, codes[2])
	assert.Equal(t, fiber.StatusTooManyRequests, codes[3])
}

func TestRateLimiter_ScopeTokenGetsOwnBucket(t *testing.T) {
	app, rl := newTestApp(Config{RequestsPerMinute: 60, Burst: 1})
	defer rl.Stop()

	req := httptest.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Same IP is now exhausted.
	resp, err = app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	// A scoped client keys on its token instead of the IP.
	scoped := httptest.NewRequest("GET", "/test", nil)
	scoped.Header.Set("X-Scope-Token", "user-a")
	resp, err = app.Test(scoped)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
