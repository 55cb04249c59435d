package middleware

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/google/uuid"
	"github.com/nijaru/yt-script/config"
	"github.com/nijaru/yt-script/logger"
)

// streaming reports whether the request is a server-sent events stream,
// which must bypass buffering middleware.
func streaming(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), "/api/progress/")
}

// Setup installs the middleware stack selected by cfg.Middleware.
func Setup(app *fiber.App, cfg *config.Config, accessLog io.Writer) {
	if cfg.Middleware.EnableRecover {
		app.Use(recover.New(recover.Config{
			EnableStackTrace: cfg.Debug,
		}))
	}

	if cfg.Middleware.EnableRequestID {
		app.Use(requestid.New(requestid.Config{
			Header: fiber.HeaderXRequestID,
			Generator: func() string {
				return uuid.New().String()
			},
		}))
	}

	if cfg.Middleware.EnableLogger {
		if accessLog != nil {
			app.Use(fiberLogger.New(logger.FiberConfig(accessLog)))
		}
		app.Use(RequestLogger())
	}

	if cfg.Middleware.EnableCORS && cfg.CORS.Enabled {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.CORS.AllowedOrigins, ","),
			AllowMethods:     strings.Join(cfg.CORS.AllowedMethods, ","),
			AllowHeaders:     strings.Join(cfg.CORS.AllowedHeaders, ","),
			ExposeHeaders:    strings.Join(cfg.CORS.ExposedHeaders, ","),
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	if cfg.Middleware.EnableRateLimit && cfg.RateLimit.Enabled {
		app.Use(NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize).Handler())
	}

	if cfg.Middleware.EnableTimeout && cfg.RequestTimeout > 0 {
		app.Use(func(c *fiber.Ctx) error {
			if streaming(c) {
				return c.Next()
			}
			return timeout.NewWithContext(func(c *fiber.Ctx) error {
				return c.Next()
			}, cfg.RequestTimeout)(c)
		})
	}

	if cfg.Middleware.EnableCompress {
		app.Use(compress.New(compress.Config{
			Next:  streaming,
			Level: compress.LevelDefault,
		}))
	}

	if cfg.Middleware.EnableETag {
		app.Use(etag.New(etag.Config{Next: streaming}))
	}

	if cfg.Middleware.EnableDebugMode && cfg.Debug {
		app.Use(func(c *fiber.Ctx) error {
			c.Set("X-Debug-Mode", "true")
			return c.Next()
		})
	}
}
