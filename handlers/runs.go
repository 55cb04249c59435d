package handlers

import (
	"bufio"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/middleware"
	"github.com/nijaru/yt-script/models"
	"github.com/sirupsen/logrus"
)

// runRequest validates a process or submit body and returns its parts.
func (h *Handler) runRequest(c *fiber.Ctx, op string) (string, models.Settings, string, error) {
	var req models.ProcessRequest
	if err := parseBody(c, op, &req); err != nil {
		return "", models.Settings{}, "", err
	}
	if err := h.requireKeys(op); err != nil {
		return "", models.Settings{}, "", err
	}

	videoURL := strings.TrimSpace(req.VideoURL())
	if err := h.validator.ValidateURL(videoURL); err != nil {
		return "", models.Settings{}, "", err
	}
	settings, err := h.resolveSettings(req.Settings)
	if err != nil {
		return "", models.Settings{}, "", err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = "client_" + uuid.NewString()
	}
	return videoURL, settings, clientID, nil
}

// Process runs the pipeline and answers once it finishes.
func (h *Handler) Process(c *fiber.Ctx) error {
	const op = "Handler.Process"

	videoURL, settings, clientID, err := h.runRequest(c, op)
	if err != nil {
		return err
	}

	logger := middleware.GetLogger(c).WithFields(logrus.Fields{
		"url":       videoURL,
		"client_id": clientID,
	})
	logger.Info("Processing video")

	run, result, err := h.runs.Execute(c.UserContext(), videoURL, settings, clientID)
	if err != nil {
		return err
	}

	return c.JSON(models.ProcessResponse{
		Success:          true,
		RunID:            run.ID,
		Result:           result.Text,
		Title:            run.Title,
		Model:            result.Model,
		Timestamp:        timestamp(),
		ClientID:         clientID,
		IsTranscriptOnly: result.TranscriptOnly,
		IsPartial:        result.Partial,
		Error:            result.Error,
	})
}

func (h *Handler) SubmitRun(c *fiber.Ctx) error {
	const op = "Handler.SubmitRun"

	videoURL, settings, clientID, err := h.runRequest(c, op)
	if err != nil {
		return err
	}

	run, err := h.runs.Submit(c.UserContext(), videoURL, settings, clientID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":  true,
		"runId":    run.ID,
		"clientId": clientID,
		"data":     run,
	})
}

func (h *Handler) GetRun(c *fiber.Ctx) error {
	const op = "Handler.GetRun"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "ID is required")
	}

	run, err := h.runs.Get(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    run,
	})
}

func (h *Handler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.runs.List(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    runs,
	})
}

func (h *Handler) CancelRun(c *fiber.Ctx) error {
	const op = "Handler.CancelRun"

	id := c.Params("id")
	if !h.runs.Cancel(id) {
		return errors.NotFound(op, nil, "Run is not active")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Run cancelled",
	})
}

type streamMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type progressMessage struct {
	Type string `json:"type"`
	models.ProgressEvent
}

// Progress streams progress events for a client id (or run id) as
// server-sent events until the client goes away or the hub closes.
func (h *Handler) Progress(c *fiber.Ctx) error {
	const op = "Handler.Progress"

	key := utils.CopyString(c.Params("clientId"))
	if key == "" {
		return errors.InvalidInput(op, nil, "Client ID is required")
	}

	sub := h.hub.Subscribe(key)
	logger := middleware.GetLogger(c).WithField("client_id", key)
	heartbeat := h.heartbeat

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		if err := writeEvent(w, streamMessage{Type: "connected", ClientID: key}); err != nil {
			logger.WithError(err).Debug("Progress stream closed before connect")
			return
		}
		logger.Debug("Progress stream connected")

		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					logger.Debug("Progress stream ended")
					return
				}
				if err := writeEvent(w, progressMessage{Type: "progress", ProgressEvent: event}); err != nil {
					logger.WithError(err).Debug("Progress stream closed by client")
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
