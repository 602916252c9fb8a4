package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware_SetsSecurityHeaders(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{}))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header.Get("Referrer-Policy"))
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestHeadersMiddleware_DevelopmentSkipsHSTS(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{IsDevelopment: true}))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}
