package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const LoggerKey = "logger"

// RequestLogger attaches a request scoped logrus entry to the context and
// logs the outcome of every request.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := RequestID(c)
		logger := logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"remote_ip":  c.IP(),
		})
		c.Locals(LoggerKey, logger)

		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		fields := logrus.Fields{
			"status":   status,
			"duration": time.Since(start).String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}

		entry := logger.WithFields(fields)
		switch {
		case err != nil || status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Debug("Request completed")
		}
		return err
	}
}

// RequestID returns the id set by the requestid middleware, falling back to
// the inbound header.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

func GetLogger(c *fiber.Ctx) *logrus.Entry {
	if logger, ok := c.Locals(LoggerKey).(*logrus.Entry); ok {
		return logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
