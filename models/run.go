package models

import (
	"time"
)

type Status string

const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusTranscriptOnly Status = "transcript_only"
	StatusPartial        Status = "partial"
	StatusFailed         Status = "failed"
)

// TimeSegment is a window of the source video, both bounds as HH:MM:SS.
type TimeSegment struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Artifacts accumulates what a run has produced so far.
type Artifacts struct {
	Duration       string        `json:"duration,omitempty"`
	Segments       []TimeSegment `json:"segments,omitempty"`
	Transcripts    []string      `json:"transcripts,omitempty"`
	Aggregated     string        `json:"aggregated,omitempty"`
	FinalResult    string        `json:"finalResult,omitempty"`
	Error          string        `json:"error,omitempty"`
	TranscriptOnly bool          `json:"isTranscriptOnly,omitempty"`
	Partial        bool          `json:"isPartialTranscript,omitempty"`
}

type Run struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Step      int       `json:"step"`
	Settings  Settings  `json:"settings"`
	Artifacts Artifacts `json:"artifacts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Run) IsProcessing() bool { return r.Status == StatusProcessing }
func (r *Run) IsFinished() bool {
	switch r.Status {
	case StatusCompleted, StatusTranscriptOnly, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// IsStale checks if the run has been stuck in processing for too long
func (r *Run) IsStale(timeout time.Duration) bool {
	if r.Status != StatusProcessing {
		return false
	}
	return time.Since(r.UpdatedAt) > timeout
}

// Result is what a finished run hands back to its caller.
type Result struct {
	RunID          string    `json:"runId,omitempty"`
	Text           string    `json:"result"`
	Model          string    `json:"model,omitempty"`
	Status         Status    `json:"status"`
	Step           int       `json:"step"`
	TranscriptOnly bool      `json:"isTranscriptOnly"`
	Partial        bool      `json:"isPartial"`
	Error          string    `json:"error,omitempty"`
	Artifacts      Artifacts `json:"artifacts"`
}
