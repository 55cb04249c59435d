package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/pool"
	"github.com/nijaru/yt-script/progress"
	"github.com/nijaru/yt-script/services/pipeline"
	"github.com/nijaru/yt-script/validation"
)

// NoKeysMessage is returned when a run is requested with an empty key pool.
const NoKeysMessage = "Vui lòng thêm ít nhất 1 API key trong API Key Manager (🔑)"

const defaultHeartbeat = 15 * time.Second

// Runs is the part of the run queue the HTTP layer drives.
type Runs interface {
	Submit(ctx context.Context, videoURL string, settings models.Settings, clientID string) (*models.Run, error)
	Execute(ctx context.Context, videoURL string, settings models.Settings, clientID string) (*models.Run, *models.Result, error)
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, limit int) ([]*models.Run, error)
	Cancel(id string) bool
}

type Deps struct {
	Runs      Runs
	Pipeline  pipeline.Service
	Hub       *progress.Hub
	Keys      *pool.CredentialPool
	Proxies   *pool.EgressPool
	Validator *validation.Validator
}

type Handler struct {
	runs      Runs
	pipeline  pipeline.Service
	hub       *progress.Hub
	keys      *pool.CredentialPool
	proxies   *pool.EgressPool
	validator *validation.Validator
	heartbeat time.Duration
}

type Option func(*Handler)

// WithHeartbeat sets how often an idle progress stream sends a comment line.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func New(deps Deps, opts ...Option) *Handler {
	h := &Handler{
		runs:      deps.Runs,
		pipeline:  deps.Pipeline,
		hub:       deps.Hub,
		keys:      deps.Keys,
		proxies:   deps.Proxies,
		validator: deps.Validator,
		heartbeat: defaultHeartbeat,
	}
	if h.validator == nil {
		h.validator = validation.NewValidator()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", HealthCheck)

	api := app.Group("/api")
	api.Get("/progress/:clientId", h.Progress)
	api.Post("/process", h.Process)
	api.Post("/generate-script-only", h.GenerateScriptOnly)
	api.Post("/chat", h.Chat)

	api.Post("/runs", h.SubmitRun)
	api.Get("/runs", h.ListRuns)
	api.Get("/runs/:id", h.GetRun)
	api.Delete("/runs/:id", h.CancelRun)

	keys := api.Group("/keys")
	keys.Get("/stats", h.KeyStats)
	keys.Post("/add", h.AddKey)
	keys.Delete("/remove", h.RemoveKey)
	keys.Post("/reset", h.ResetKeys)

	proxies := api.Group("/proxies")
	proxies.Get("/stats", h.ProxyStats)
	proxies.Post("/add", h.AddProxy)
	proxies.Delete("/remove", h.RemoveProxy)
	proxies.Post("/reset", h.ResetProxies)
	proxies.Post("/test", h.TestProxy)
	proxies.Post("/test-all", h.TestAllProxies)
}

func HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func parseBody(c *fiber.Ctx, op string, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errors.InvalidInput(op, err, "Invalid request body")
	}
	return nil
}

func (h *Handler) requireKeys(op string) error {
	if h.keys == nil || h.keys.Len() == 0 {
		return errors.InvalidInput(op, nil, NoKeysMessage)
	}
	return nil
}

// resolveSettings validates the requested settings, using the defaults when
// none were sent.
func (h *Handler) resolveSettings(s *models.Settings) (models.Settings, error) {
	if s == nil {
		return models.DefaultSettings(), nil
	}
	if err := h.validator.ValidateSettings(*s); err != nil {
		return models.Settings{}, err
	}
	return *s, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
