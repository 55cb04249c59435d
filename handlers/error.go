package handlers

import (
	stderrors "errors"

	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/middleware"
	"github.com/sirupsen/logrus"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var (
		pipelineErr *errors.PipelineError
		fiberErr    *fiber.Error
	)
	switch {
	case stderrors.As(err, &pipelineErr):
		message = pipelineErr.Error()
	case stderrors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	default:
		if appErr, ok := errors.As(err); ok {
			code = appErr.Code
			message = appErr.Message
		}
	}
	if code == 0 {
		code = fiber.StatusInternalServerError
	}

	requestID := middleware.RequestID(c)
	entry := middleware.GetLogger(c).WithFields(logrus.Fields{
		"request_id": requestID,
		"path":       c.Path(),
		"method":     c.Method(),
		"status":     code,
	}).WithError(err)
	if code >= fiber.StatusInternalServerError {
		entry.Error("Request error")
	} else {
		entry.Warn("Request error")
	}

	return c.Status(code).JSON(fiber.Map{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	})
}
