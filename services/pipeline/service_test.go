package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/retry"
	"github.com/nijaru/yt-script/script"
	"github.com/nijaru/yt-script/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGemini struct {
	mu sync.Mutex

	AnalyzeVideoFunc        func(prompt string, observe retry.Observer) (string, error)
	AnalyzeVideoSegmentFunc func(call int, prompt string) (string, error)
	GenerateScriptFunc      func(model string) (string, error)
	GenerateTextFunc        func(prompt, model string) (string, error)

	segmentCalls int
	scriptModels []string
}

func (f *fakeGemini) AnalyzeVideo(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error) {
	if f.AnalyzeVideoFunc == nil {
		return "00:12:30", nil
	}
	return f.AnalyzeVideoFunc(prompt, observe)
}

func (f *fakeGemini) AnalyzeVideoSegment(ctx context.Context, videoURL, prompt, model string, observe retry.Observer) (string, error) {
	f.mu.Lock()
	f.segmentCalls++
	call := f.segmentCalls
	f.mu.Unlock()

	if f.AnalyzeVideoSegmentFunc == nil {
		return "transcript " + string(rune('0'+call)), nil
	}
	return f.AnalyzeVideoSegmentFunc(call, prompt)
}

func (f *fakeGemini) GenerateScript(ctx context.Context, transcript, prompt, model string) (string, error) {
	f.mu.Lock()
	f.scriptModels = append(f.scriptModels, model)
	f.mu.Unlock()

	if f.GenerateScriptFunc == nil {
		return "final script", nil
	}
	return f.GenerateScriptFunc(model)
}

func (f *fakeGemini) GenerateText(ctx context.Context, prompt, model string) (string, error) {
	if f.GenerateTextFunc == nil {
		return "", errors.Upstream("fake", errors.KindServiceUnavailable, 503, "unavailable", nil)
	}
	return f.GenerateTextFunc(prompt, model)
}

func newTestService(g *fakeGemini) Service {
	return NewService(
		g,
		segment.NewEngine(g, segment.Config{}),
		script.NewChain(g, script.Config{Models: []string{"m1", "m2"}, AttemptsPerModel: 2}),
		Config{DurationModel: "dur", SegmentModel: "seg", ChatModel: "chat"},
	)
}

type eventLog struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (l *eventLog) record(e models.ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) steps() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var steps []int
	for _, e := range l.events {
		if len(steps) == 0 || steps[len(steps)-1] != e.Step {
			steps = append(steps, e.Step)
		}
	}
	return steps
}

func TestProcessCompletes(t *testing.T) {
	g := &fakeGemini{}
	log := &eventLog{}

	result, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), log.record)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "final script", result.Text)
	assert.Equal(t, "m1", result.Model)
	assert.Equal(t, "00:12:30", result.Artifacts.Duration)
	assert.Equal(t, []models.TimeSegment{
		{Start: "00:00:00", End: "00:05:00"},
		{Start: "00:05:00", End: "00:10:00"},
		{Start: "00:10:00", End: "00:12:30"},
	}, result.Artifacts.Segments)
	assert.Equal(t, "transcript 1"+SegmentSeparator+"transcript 2"+SegmentSeparator+"transcript 3", result.Artifacts.Aggregated)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, log.steps())
	assert.Equal(t, 3, g.segmentCalls)
}

func TestProcessSegmentEventsCarryPosition(t *testing.T) {
	log := &eventLog{}

	_, err := newTestService(&fakeGemini{}).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), log.record)
	require.NoError(t, err)

	var seen []int
	for _, e := range log.events {
		if e.Step == 3 && e.Segment != nil && e.Partial == nil {
			seen = append(seen, e.SegmentIndex)
			assert.Equal(t, 3, e.SegmentTotal)
			assert.Equal(t, "Khoảng 10 phút", e.EstimatedTime)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestProcessRelaysRetryEvents(t *testing.T) {
	log := &eventLog{}
	g := &fakeGemini{AnalyzeVideoFunc: func(prompt string, observe retry.Observer) (string, error) {
		observe(retry.Event{
			Type:        retry.EventWaiting,
			Attempt:     1,
			MaxAttempts: 4,
			Delay:       time.Minute,
			Err:         stderrors.New("Gemini API error: 503"),
		})
		return "00:04:00", nil
	}}

	_, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), log.record)
	require.NoError(t, err)

	var retries []*models.RetryInfo
	for _, e := range log.events {
		if e.Retry != nil {
			assert.Equal(t, 1, e.Step)
			retries = append(retries, e.Retry)
		}
	}
	require.Len(t, retries, 1)
	assert.Equal(t, "retry_waiting", retries[0].Type)
	assert.Equal(t, "Gemini API error: 503", retries[0].Error)
	assert.Contains(t, retries[0].Message, "1p0s")
}

func TestProcessPartialAfterSegmentFailure(t *testing.T) {
	g := &fakeGemini{AnalyzeVideoSegmentFunc: func(call int, prompt string) (string, error) {
		if call == 2 {
			return "", errors.Upstream("fake", errors.KindBadRequest, 400, "Gemini API error: 400", nil)
		}
		return "segment one", nil
	}}

	result, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, result.Status)
	assert.True(t, result.Partial)
	assert.Equal(t, 3, result.Step)
	assert.Equal(t, "segment one", result.Text)
	assert.Equal(t, "Gemini API error: 400", result.Error)
	assert.Equal(t, 2, g.segmentCalls)
	assert.Empty(t, g.scriptModels)
}

func TestProcessTranscriptOnlyWhenAllModelsFail(t *testing.T) {
	g := &fakeGemini{GenerateScriptFunc: func(model string) (string, error) {
		return "", errors.Upstream("fake", errors.KindServiceUnavailable, 500, "Gemini API error: 500", nil)
	}}

	result, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusTranscriptOnly, result.Status)
	assert.True(t, result.TranscriptOnly)
	assert.Equal(t, result.Artifacts.Aggregated, result.Text)
	assert.True(t, strings.Contains(result.Text, SegmentSeparator))
	assert.Equal(t, "All models failed. Last error: Gemini API error: 500", result.Error)
	assert.Equal(t, []string{"m1", "m2"}, g.scriptModels)
}

func TestProcessHardFailureAtDuration(t *testing.T) {
	cause := errors.Upstream("fake", errors.KindRateLimited, 429, "Gemini API error: 429", nil)
	g := &fakeGemini{AnalyzeVideoFunc: func(string, retry.Observer) (string, error) {
		return "", cause
	}}

	result, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	assert.Nil(t, result)

	var pe *errors.PipelineError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, 1, pe.Step)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Video processing failed at step 1: Gemini API error: 429", err.Error())
}

func TestProcessHardFailureKeepsArtifacts(t *testing.T) {
	g := &fakeGemini{AnalyzeVideoSegmentFunc: func(int, string) (string, error) {
		return "", errors.Upstream("fake", errors.KindTimeout, 0, "request timed out", nil)
	}}

	_, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)

	var pe *errors.PipelineError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, 3, pe.Step)
	artifacts, ok := pe.Artifacts.(models.Artifacts)
	require.True(t, ok)
	assert.Equal(t, "00:12:30", artifacts.Duration)
	assert.Len(t, artifacts.Segments, 3)
}

func TestProcessUsesModelSegmentation(t *testing.T) {
	g := &fakeGemini{
		AnalyzeVideoFunc: func(string, retry.Observer) (string, error) { return "00:03:00", nil },
		GenerateTextFunc: func(prompt, model string) (string, error) {
			assert.Equal(t, segment.DefaultModel, model)
			return `{"items":[{"start":"00:00:00","end":"00:01:30"},{"start":"00:01:30","end":"00:03:00"}]}`, nil
		},
	}

	result, err := newTestService(g).Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Len(t, result.Artifacts.Segments, 2)
	assert.Equal(t, 2, g.segmentCalls)
}

func TestProcessHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(
		&fakeGemini{},
		segment.NewEngine(nil, segment.Config{}),
		script.NewChain(&fakeGemini{}, script.Config{}),
		Config{StepPause: time.Hour},
	)

	go cancel()
	_, err := svc.Process(ctx, "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessPacing(t *testing.T) {
	const (
		step  = time.Minute
		pre   = 3 * time.Second
		inter = 10 * time.Second
	)

	tests := []struct {
		name     string
		config   Config
		expected []time.Duration
	}{
		{
			name:     "full schedule",
			config:   Config{StepPause: step, InterSegmentPause: inter, PreCallPause: pre},
			expected: []time.Duration{step, pre, inter, pre, inter, pre, step},
		},
		{
			name:     "no inter-segment pause",
			config:   Config{StepPause: step, PreCallPause: pre},
			expected: []time.Duration{step, pre, pre, pre, step},
		},
		{
			name:     "no step pause",
			config:   Config{InterSegmentPause: inter, PreCallPause: pre},
			expected: []time.Duration{pre, inter, pre, inter, pre},
		},
		{
			name:   "unpaced",
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGemini{}
			svc := newTestService(g).(*service)
			svc.config = tt.config

			var slept []time.Duration
			svc.sleep = func(ctx context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			}

			result, err := svc.Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
			require.NoError(t, err)
			require.Len(t, result.Artifacts.Segments, 3)
			assert.Equal(t, tt.expected, slept)
		})
	}
}

func TestProcessPacingOrder(t *testing.T) {
	g := &fakeGemini{}
	svc := newTestService(g).(*service)
	svc.config = Config{StepPause: time.Minute, InterSegmentPause: 10 * time.Second, PreCallPause: 3 * time.Second}

	var trace []string
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		trace = append(trace, "sleep "+d.String())
		return nil
	}
	g.AnalyzeVideoSegmentFunc = func(call int, prompt string) (string, error) {
		trace = append(trace, "segment")
		return "transcript", nil
	}

	_, err := svc.Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sleep 1m0s",
		"sleep 3s", "segment",
		"sleep 10s", "sleep 3s", "segment",
		"sleep 10s", "sleep 3s", "segment",
		"sleep 1m0s",
	}, trace)
}

func TestProcessPauseCancellation(t *testing.T) {
	g := &fakeGemini{}
	svc := newTestService(g).(*service)
	svc.config = Config{PreCallPause: time.Second}
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	_, err := svc.Process(context.Background(), "https://youtu.be/abcdefghijk", models.DefaultSettings(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.segmentCalls)

	var pe *errors.PipelineError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, 3, pe.Step)
}

func TestGenerateScriptOnly(t *testing.T) {
	g := &fakeGemini{}
	svc := newTestService(g)

	result, err := svc.GenerateScriptOnly(context.Background(), "stored transcript", models.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "final script", result.Text)
	assert.Equal(t, "stored transcript", result.Artifacts.Aggregated)

	_, err = svc.GenerateScriptOnly(context.Background(), "   ", models.DefaultSettings())
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestChat(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantResponse string
		wantUpdated  string
	}{
		{
			name:         "json reply",
			reply:        "```json\n{\"response\": \"Đã rút gọn\", \"updatedResult\": \"bản mới\"}\n```",
			wantResponse: "Đã rút gọn",
			wantUpdated:  "bản mới",
		},
		{
			name:         "plain reply",
			reply:        "Tôi không hiểu yêu cầu",
			wantResponse: "Tôi không hiểu yêu cầu",
			wantUpdated:  "bản gốc",
		},
		{
			name:         "json without update",
			reply:        `{"response": "Không cần sửa"}`,
			wantResponse: "Không cần sửa",
			wantUpdated:  "bản gốc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPrompt, gotModel string
			g := &fakeGemini{GenerateTextFunc: func(prompt, model string) (string, error) {
				gotPrompt, gotModel = prompt, model
				return tt.reply, nil
			}}

			resp, err := newTestService(g).Chat(context.Background(), models.ChatRequest{
				Message:        "Ngắn hơn",
				OriginalResult: "bản gốc",
				ChatHistory:    []models.ChatMessage{{Role: "user", Content: "xin chào"}},
			})
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.wantResponse, resp.Response)
			assert.Equal(t, tt.wantUpdated, resp.UpdatedResult)
			assert.Equal(t, "chat", gotModel)
			assert.Contains(t, gotPrompt, "Người dùng: xin chào")
			assert.Contains(t, gotPrompt, "Yêu cầu mới: Ngắn hơn")
		})
	}
}

func TestChatRequiresMessageAndResult(t *testing.T) {
	_, err := newTestService(&fakeGemini{}).Chat(context.Background(), models.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, "Missing message or originalResult", err.Error())
}

func TestVideoTitle(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "Video dQw4w9Wg..."},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "Video dQw4w9Wg..."},
		{"https://youtu.be/abc", "Video abc..."},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", DefaultTitle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, VideoTitle(tt.url), tt.url)
	}
}

func TestEstimatedTime(t *testing.T) {
	assert.Equal(t, "Khoảng 7 phút", EstimatedTime(1))
	assert.Equal(t, "Khoảng 10 phút", EstimatedTime(3))
	assert.Equal(t, "Khoảng 20 phút", EstimatedTime(10))
}
