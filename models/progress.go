package models

import "time"

// RetryInfo mirrors a retry event raised while a step was running.
type RetryInfo struct {
	Type        string        `json:"type"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"maxAttempts"`
	Delay       time.Duration `json:"delay,omitempty"`
	Error       string        `json:"error,omitempty"`
	Message     string        `json:"message"`
}

// ProgressEvent is emitted by the orchestrator on every state transition.
type ProgressEvent struct {
	RunID         string       `json:"runId,omitempty"`
	ClientID      string       `json:"clientId,omitempty"`
	Step          int          `json:"currentStep"`
	SegmentIndex  int          `json:"currentSegment"`
	SegmentTotal  int          `json:"totalSegments"`
	Segment       *TimeSegment `json:"segmentInfo,omitempty"`
	EstimatedTime string       `json:"estimatedTime,omitempty"`
	Message       string       `json:"message,omitempty"`
	Partial       *Artifacts   `json:"partialResults,omitempty"`
	Retry         *RetryInfo   `json:"retry,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// ProgressFunc receives progress events. Implementations must return quickly.
type ProgressFunc func(ProgressEvent)
