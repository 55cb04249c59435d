package middleware

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerStoresEntry(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger())

	var got *logrus.Entry
	app.Get("/test", func(c *fiber.Ctx) error {
		got = GetLogger(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.Data["request_id"])
	assert.Equal(t, "/test", got.Data["path"])
}

func TestGetLoggerWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		assert.NotNil(t, GetLogger(c))
		return nil
	})

	_, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(60, 2)

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))
}

func TestIPRateLimiterHandler(t *testing.T) {
	app := fiber.New()
	app.Use(NewIPRateLimiter(1, 1).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Rate limit exceeded")
}

func TestSetupAddsRequestID(t *testing.T) {
	cfg := &config.Config{
		Middleware: config.MiddlewareConfig{
			EnableRecover:   true,
			EnableRequestID: true,
			EnableLogger:    true,
			EnableCompress:  true,
		},
	}

	var access bytes.Buffer
	app := fiber.New()
	Setup(app, cfg, &access)
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	assert.Contains(t, access.String(), "/ok")

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
