package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/middleware"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/services/pipeline"
)

// GenerateScriptOnly runs the final step on a transcript the client kept
// from an earlier run.
func (h *Handler) GenerateScriptOnly(c *fiber.Ctx) error {
	const op = "Handler.GenerateScriptOnly"

	var req models.ScriptOnlyRequest
	if err := parseBody(c, op, &req); err != nil {
		return err
	}
	if blank(req.Transcript) || req.Settings == nil {
		return errors.InvalidInput(op, nil, "Missing transcript or settings")
	}
	if err := h.requireKeys(op); err != nil {
		return err
	}
	settings, err := h.resolveSettings(req.Settings)
	if err != nil {
		return err
	}

	middleware.GetLogger(c).WithField("chars", len(req.Transcript)).Info("Generating script from transcript")

	result, err := h.pipeline.GenerateScriptOnly(c.UserContext(), req.Transcript, settings)
	if err != nil {
		return err
	}

	return c.JSON(models.ProcessResponse{
		Success:   true,
		Result:    result.Text,
		Title:     pipeline.ScriptOnlyTitle,
		Model:     result.Model,
		Timestamp: timestamp(),
		ClientID:  req.ClientID,
	})
}

func (h *Handler) Chat(c *fiber.Ctx) error {
	const op = "Handler.Chat"

	var req models.ChatRequest
	if err := parseBody(c, op, &req); err != nil {
		return err
	}

	resp, err := h.pipeline.Chat(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
