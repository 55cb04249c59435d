package gemini

import (
	"context"
	"time"

	"github.com/nijaru/yt-script/retry"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com"

	DefaultVideoModel   = "gemini-2.5-flash"
	DefaultSegmentModel = "gemini-2.5-flash"
	DefaultScriptModel  = "gemini-2.5-pro"
	DefaultTextModel    = "gemini-2.0-flash"

	DefaultVideoTimeout = 120 * time.Second
	DefaultTextTimeout  = 60 * time.Second
)

// Service owns the generateContent wire contract. Every call draws an API key
// from the credential pool and, when enabled, a proxy from the egress pool.
type Service interface {
	// AnalyzeVideo asks a question about a YouTube video. It is retried
	// according to Config.Retry and reports retry events to observe.
	AnalyzeVideo(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error)

	// AnalyzeVideoSegment is AnalyzeVideo with the segment model as default.
	AnalyzeVideoSegment(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error)

	// GenerateScript rewrites a transcript under prompt. Not retried.
	GenerateScript(ctx context.Context, transcript, prompt, model string) (string, error)

	// GenerateText sends a prompt-only request. Not retried.
	GenerateText(ctx context.Context, prompt, model string) (string, error)
}

type Config struct {
	Endpoint     string
	VideoTimeout time.Duration
	TextTimeout  time.Duration

	// UseProxies routes calls through the egress pool when it has entries.
	UseProxies bool

	// RequestsPerMinute paces all upstream calls when > 0.
	RequestsPerMinute int

	Retry retry.Policy
}

func DefaultConfig() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		VideoTimeout: DefaultVideoTimeout,
		TextTimeout:  DefaultTextTimeout,
		UseProxies:   true,
		Retry:        retry.Default(),
	}
}
