package pipeline

import (
	"context"
	"time"

	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/script"
	"github.com/nijaru/yt-script/segment"
)

type Service interface {
	// Process runs the five pipeline steps for one video. A failure after at
	// least one segment was transcribed yields a partial result instead of an
	// error; a failed final step yields a transcript-only result. A hard
	// failure is a *errors.PipelineError.
	Process(ctx context.Context, videoURL string, settings models.Settings, onProgress models.ProgressFunc) (*models.Result, error)

	// GenerateScriptOnly runs only the final step on a stored transcript.
	GenerateScriptOnly(ctx context.Context, transcript string, settings models.Settings) (*models.Result, error)

	// Chat revises a finished script following a user instruction.
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
}

// Segmenter partitions a video given the duration the model reported.
type Segmenter interface {
	Segments(ctx context.Context, durationText string) ([]models.TimeSegment, segment.Source, error)
}

// ScriptWriter turns an aggregated transcript into the final script.
type ScriptWriter interface {
	Write(ctx context.Context, transcript string, settings models.Settings) (script.Output, error)
}

type Config struct {
	// StepPause follows the duration query and the aggregation step.
	StepPause time.Duration `json:"step_pause"`

	// InterSegmentPause precedes every segment but the first.
	InterSegmentPause time.Duration `json:"inter_segment_pause"`

	// PreCallPause precedes every segment analysis call.
	PreCallPause time.Duration `json:"pre_call_pause"`

	DurationModel string `json:"duration_model"`
	SegmentModel  string `json:"segment_model"`
	ChatModel     string `json:"chat_model"`
}

func DefaultConfig() Config {
	return Config{
		StepPause:         time.Minute,
		InterSegmentPause: time.Minute,
		PreCallPause:      time.Minute,
		DurationModel:     "gemini-2.5-flash",
		SegmentModel:      "gemini-2.5-flash",
		ChatModel:         "gemini-2.0-flash",
	}
}
