package script

import (
	"context"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/retry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttemptsPerModel = 2
	DefaultAttemptDelay     = 2 * time.Second
)

// DefaultModels is the fallback order, best quality first.
var DefaultModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-live",
	"gemini-2.0-flash",
}

// Generator is the subset of the Gemini client the chain needs.
type Generator interface {
	GenerateScript(ctx context.Context, transcript, prompt, model string) (string, error)
}

type Config struct {
	Models           []string
	AttemptsPerModel int
	AttemptDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Models:           append([]string(nil), DefaultModels...),
		AttemptsPerModel: DefaultAttemptsPerModel,
		AttemptDelay:     DefaultAttemptDelay,
	}
}

// Output is a generated script and the model that wrote it.
type Output struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Chain tries each model in order. Server side failures skip straight to the
// next model; anything else is retried on the same model after a short pause.
type Chain struct {
	gen    Generator
	config Config
	logger *logrus.Entry
}

func NewChain(gen Generator, cfg Config) *Chain {
	if len(cfg.Models) == 0 {
		cfg.Models = append([]string(nil), DefaultModels...)
	}
	if cfg.AttemptsPerModel <= 0 {
		cfg.AttemptsPerModel = DefaultAttemptsPerModel
	}
	if cfg.AttemptDelay < 0 {
		cfg.AttemptDelay = 0
	}
	return &Chain{
		gen:    gen,
		config: cfg,
		logger: logrus.WithField("component", "script_chain"),
	}
}

func (c *Chain) Models() []string {
	return append([]string(nil), c.config.Models...)
}

// Generate returns the first successful script. When every model fails the
// error is an all_models_failed AppError quoting the last failure.
func (c *Chain) Generate(ctx context.Context, transcript, prompt string) (Output, error) {
	const op = "Chain.Generate"

	policy := retry.Fixed(c.config.AttemptsPerModel, c.config.AttemptDelay)
	policy.ShortCircuit = errors.IsServerError

	logger := c.logger.WithFields(logrus.Fields{
		"transcript_chars": len(transcript),
		"prompt_chars":     len(prompt),
	})

	var lastErr error
	for i, model := range c.config.Models {
		mlog := logger.WithField("model", model)
		mlog.Info("Trying model")

		text, err := retry.Do(ctx, policy, op, func(ctx context.Context, attempt int) (string, error) {
			return c.gen.GenerateScript(ctx, transcript, prompt, model)
		}, nil)
		if err == nil {
			mlog.Info("Script generated")
			return Output{Text: text, Model: model}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, ctxErr
		}

		lastErr = err
		if i < len(c.config.Models)-1 {
			mlog.WithError(err).WithField("next_model", c.config.Models[i+1]).Warn("Model failed, moving to next model")
		}
	}

	logger.WithError(lastErr).Error("All models failed")
	return Output{}, errors.AllModelsFailed(op, lastErr)
}

// Write builds the prompt from settings and runs the chain.
func (c *Chain) Write(ctx context.Context, transcript string, settings models.Settings) (Output, error) {
	return c.Generate(ctx, transcript, BuildPrompt(settings))
}
