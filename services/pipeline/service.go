package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/gemini"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/retry"
	"github.com/sirupsen/logrus"
)

type service struct {
	client    gemini.Service
	segmenter Segmenter
	writer    ScriptWriter
	config    Config
	logger    *logrus.Entry

	// sleep blocks for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(client gemini.Service, segmenter Segmenter, writer ScriptWriter, config Config) Service {
	return &service{
		client:    client,
		segmenter: segmenter,
		writer:    writer,
		config:    config,
		logger:    logrus.WithField("component", "pipeline"),
		sleep:     sleepContext,
	}
}

// run tracks the state of one Process call.
type run struct {
	step      int
	segIndex  int
	segTotal  int
	segment   *models.TimeSegment
	estimated string
	artifacts models.Artifacts
	notify    models.ProgressFunc
}

func (r *run) emit(message string, partial *models.Artifacts) {
	if r.notify == nil {
		return
	}
	r.notify(models.ProgressEvent{
		Step:          r.step,
		SegmentIndex:  r.segIndex,
		SegmentTotal:  r.segTotal,
		Segment:       r.segment,
		EstimatedTime: r.estimated,
		Message:       message,
		Partial:       partial,
		Timestamp:     time.Now(),
	})
}

// observe relays retry events of the current step as progress events.
func (r *run) observe(e retry.Event) {
	if r.notify == nil {
		return
	}
	info := &models.RetryInfo{
		Type:        string(e.Type),
		Attempt:     e.Attempt,
		MaxAttempts: e.MaxAttempts,
		Delay:       e.Delay,
		Message:     e.Message(),
	}
	if e.Err != nil {
		info.Error = e.Err.Error()
	}
	r.notify(models.ProgressEvent{
		Step:          r.step,
		SegmentIndex:  r.segIndex,
		SegmentTotal:  r.segTotal,
		Segment:       r.segment,
		EstimatedTime: r.estimated,
		Message:       info.Message,
		Retry:         info,
		Timestamp:     time.Now(),
	})
}

func (s *service) Process(ctx context.Context, videoURL string, settings models.Settings, onProgress models.ProgressFunc) (*models.Result, error) {
	const op = "PipelineService.Process"

	r := &run{notify: onProgress}
	logger := s.logger.WithFields(logrus.Fields{
		"op":  op,
		"url": videoURL,
	})
	logger.Info("Starting pipeline run")

	// Step 1: duration
	r.step = 1
	r.emit("Đang phân tích độ dài video...", nil)
	duration, err := s.client.AnalyzeVideo(ctx, videoURL, DurationPrompt(videoURL), s.config.DurationModel, r.observe)
	if err != nil {
		return s.fail(logger, r, err)
	}
	r.artifacts.Duration = duration
	r.emit("Đã lấy duration thành công", &models.Artifacts{Duration: duration})

	if s.config.StepPause > 0 {
		r.emit("Chờ 1 phút trước khi tiếp tục...", nil)
		if err := s.pause(ctx, s.config.StepPause); err != nil {
			return s.fail(logger, r, err)
		}
	}

	// Step 2: segmentation
	r.step = 2
	r.emit("Đang chia video thành các đoạn...", nil)
	segments, source, err := s.segmenter.Segments(ctx, duration)
	if err != nil {
		return s.fail(logger, r, err)
	}
	r.artifacts.Segments = segments
	r.segTotal = len(segments)
	r.estimated = EstimatedTime(len(segments))
	logger.WithFields(logrus.Fields{
		"segments": len(segments),
		"source":   source,
	}).Info("Video segmented")
	r.emit(r.estimated, &models.Artifacts{Segments: segments})

	// Step 3: per-segment analysis
	r.step = 3
	r.emit(r.estimated, nil)
	for i := range segments {
		seg := segments[i]
		if i > 0 {
			if err := s.pause(ctx, s.config.InterSegmentPause); err != nil {
				return s.fail(logger, r, err)
			}
		}

		r.segIndex = i + 1
		r.segment = &seg
		r.emit(r.estimated, nil)

		if err := s.pause(ctx, s.config.PreCallPause); err != nil {
			return s.fail(logger, r, err)
		}

		text, err := s.client.AnalyzeVideoSegment(ctx, videoURL, ScenePrompt(seg), s.config.SegmentModel, r.observe)
		if err != nil {
			return s.fail(logger, r, err)
		}
		r.artifacts.Transcripts = append(r.artifacts.Transcripts, text)
		logger.WithFields(logrus.Fields{
			"segment": r.segIndex,
			"of":      r.segTotal,
			"chars":   len(text),
		}).Info("Segment analyzed")
		r.emit(r.estimated, &models.Artifacts{
			Transcripts: append([]string(nil), r.artifacts.Transcripts...),
		})
	}

	// Step 4: aggregation
	r.step = 4
	r.segIndex, r.segTotal, r.segment = 0, 0, nil
	r.emit("Đang tổng hợp transcript...", nil)
	aggregated := strings.Join(r.artifacts.Transcripts, SegmentSeparator)
	r.artifacts.Aggregated = aggregated
	r.emit("Đã tổng hợp transcript", &models.Artifacts{Aggregated: aggregated})

	if s.config.StepPause > 0 {
		r.emit("Chờ 1 phút trước khi tạo script cuối...", nil)
		if err := s.pause(ctx, s.config.StepPause); err != nil {
			return s.fail(logger, r, err)
		}
	}
	if strings.TrimSpace(aggregated) == "" {
		return s.fail(logger, r, errors.Upstream(op, errors.KindPipelineStep, 0, "Transcript is empty - cannot generate final script", nil))
	}

	// Step 5: final script
	r.step = 5
	r.emit("Đang tạo bình luận cuối cùng (thử các model Gemini)...", nil)
	out, err := s.writer.Write(ctx, aggregated, settings)
	if err != nil {
		logger.WithError(err).Warn("Script generation failed, returning transcript")
		r.artifacts.FinalResult = aggregated
		r.artifacts.Error = err.Error()
		r.artifacts.TranscriptOnly = true
		r.emit("Script generation failed, returning transcript", &models.Artifacts{
			FinalResult:    aggregated,
			Error:          err.Error(),
			TranscriptOnly: true,
		})
		return &models.Result{
			Text:           aggregated,
			Status:         models.StatusTranscriptOnly,
			Step:           5,
			TranscriptOnly: true,
			Error:          err.Error(),
			Artifacts:      r.artifacts,
		}, nil
	}

	r.artifacts.FinalResult = out.Text
	r.emit("Hoàn thành!", &models.Artifacts{FinalResult: out.Text})
	logger.WithFields(logrus.Fields{
		"model": out.Model,
		"chars": len(out.Text),
	}).Info("Pipeline run completed")

	return &models.Result{
		Text:      out.Text,
		Model:     out.Model,
		Status:    models.StatusCompleted,
		Step:      5,
		Artifacts: r.artifacts,
	}, nil
}

// fail returns the transcripts gathered so far as a partial result, or a
// PipelineError when there are none.
func (s *service) fail(logger *logrus.Entry, r *run, err error) (*models.Result, error) {
	logger = logger.WithField("step", r.step).WithError(err)

	partial := strings.Join(r.artifacts.Transcripts, SegmentSeparator)
	if strings.TrimSpace(partial) == "" {
		logger.Error("Pipeline run failed")
		return nil, &errors.PipelineError{Step: r.step, Artifacts: r.artifacts, Err: err}
	}

	logger.WithField("segments_done", len(r.artifacts.Transcripts)).Warn("Pipeline run failed, returning partial transcript")
	failedStep := r.step
	r.artifacts.FinalResult = partial
	r.artifacts.Error = err.Error()
	r.artifacts.Partial = true

	r.step = 5
	r.segIndex, r.segTotal, r.segment = 0, 0, nil
	r.emit("Workflow failed, returning partial transcript", &models.Artifacts{
		FinalResult: partial,
		Error:       err.Error(),
		Partial:     true,
	})

	return &models.Result{
		Text:      partial,
		Status:    models.StatusPartial,
		Step:      failedStep,
		Partial:   true,
		Error:     err.Error(),
		Artifacts: r.artifacts,
	}, nil
}

func (s *service) GenerateScriptOnly(ctx context.Context, transcript string, settings models.Settings) (*models.Result, error) {
	const op = "PipelineService.GenerateScriptOnly"

	if strings.TrimSpace(transcript) == "" {
		return nil, errors.InvalidInput(op, nil, "Transcript is required")
	}

	out, err := s.writer.Write(ctx, transcript, settings)
	if err != nil {
		s.logger.WithField("op", op).WithError(err).Error("Script generation failed")
		return nil, err
	}

	return &models.Result{
		Text:   out.Text,
		Model:  out.Model,
		Status: models.StatusCompleted,
		Step:   5,
		Artifacts: models.Artifacts{
			Aggregated:  transcript,
			FinalResult: out.Text,
		},
	}, nil
}

func (s *service) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	const op = "PipelineService.Chat"

	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.OriginalResult) == "" {
		return nil, errors.InvalidInput(op, nil, "Missing message or originalResult")
	}

	text, err := s.client.GenerateText(ctx, chatPrompt(req), s.config.ChatModel)
	if err != nil {
		return nil, err
	}

	resp := &models.ChatResponse{
		Success:       true,
		Response:      text,
		UpdatedResult: req.OriginalResult,
	}

	var parsed struct {
		Response      string `json:"response"`
		UpdatedResult string `json:"updatedResult"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &parsed); err != nil {
		s.logger.WithField("op", op).WithError(err).Debug("Chat reply is not JSON, returning raw text")
		return resp, nil
	}
	if parsed.Response != "" {
		resp.Response = parsed.Response
	}
	if parsed.UpdatedResult != "" {
		resp.UpdatedResult = parsed.UpdatedResult
	}
	return resp, nil
}

func stripFence(text string) string {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// pause waits d between upstream calls. A zero pause only checks ctx.
func (s *service) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return s.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
