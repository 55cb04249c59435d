package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/sirupsen/logrus"
)

const DefaultModel = "gemini-2.0-flash"

// Source names the path that produced a segment list.
type Source string

const (
	SourceLLM        Source = "llm"
	SourceArithmetic Source = "arithmetic"
	SourceEmergency  Source = "emergency"
)

// TextGenerator is the subset of the Gemini client the engine needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, model string) (string, error)
}

type Config struct {
	Model string
	// Prompt overrides the segmentation prompt. The duration text is its
	// only argument, referenced as %[1]s.
	Prompt string
}

// Engine asks the model to partition a video and falls back to arithmetic
// when the answer is unusable. It never returns zero segments.
type Engine struct {
	gen    TextGenerator
	config Config
	logger *logrus.Entry
}

func NewEngine(gen TextGenerator, cfg Config) *Engine {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	return &Engine{
		gen:    gen,
		config: cfg,
		logger: logrus.WithField("component", "segment_engine"),
	}
}

// Segments partitions the video described by durationText. The returned
// error is non-nil only when ctx is done.
func (e *Engine) Segments(ctx context.Context, durationText string) ([]models.TimeSegment, Source, error) {
	logger := e.logger.WithField("duration", strings.TrimSpace(durationText))

	if e.gen != nil {
		text, err := e.gen.GenerateText(ctx, e.Prompt(durationText), e.config.Model)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		if err != nil {
			logger.WithError(err).Warn("Segmentation call failed, using arithmetic fallback")
		} else {
			items, perr := ParseItems(text)
			switch {
			case perr != nil:
				logger.WithError(perr).Warn("Unparseable segmentation reply, using arithmetic fallback")
			case len(items) == 0:
				logger.Warn("Segmentation reply had no items, using arithmetic fallback")
			default:
				expected, format := ParseDuration(durationText)
				if format == "fallback" {
					expected = -1
				}
				if cerr := CheckCoverage(items, expected); cerr != nil {
					logger.WithError(cerr).WithField("covered_seconds", Span(items)).Warn("Model segments have gaps or overlaps, using arithmetic fallback")
					break
				}
				return items, SourceLLM, nil
			}
		}
	}

	total, format := ParseDuration(durationText)
	segments := Split(total, WindowSeconds)
	if len(segments) > 0 {
		logger.WithFields(logrus.Fields{
			"seconds":  total,
			"format":   format,
			"segments": len(segments),
		}).Info("Created segments arithmetically")
		return segments, SourceArithmetic, nil
	}

	logger.Error("No segments created, using emergency segment")
	return Emergency(), SourceEmergency, nil
}

func (e *Engine) Prompt(durationText string) string {
	return fmt.Sprintf(e.config.Prompt, strings.TrimSpace(durationText))
}

type itemList struct {
	Items []models.TimeSegment `json:"items"`
}

// ParseItems decodes a {"items":[{"start","end"}]} reply. Markdown code
// fences and surrounding prose are ignored. Every item must be a valid,
// non-empty interval.
func ParseItems(text string) ([]models.TimeSegment, error) {
	const op = "segment.ParseItems"

	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	if i, j := strings.Index(body, "{"), strings.LastIndex(body, "}"); i >= 0 && j > i {
		body = body[i : j+1]
	}

	var list itemList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return nil, errors.Upstream(op, errors.KindParse, 0, "invalid segmentation JSON", err)
	}

	out := make([]models.TimeSegment, 0, len(list.Items))
	for i, item := range list.Items {
		start, err := ParseTimecode(item.Start)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("item %d start", i))
		}
		end, err := ParseTimecode(item.End)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("item %d end", i))
		}
		if end <= start {
			return nil, errors.Upstream(op, errors.KindParse, 0, fmt.Sprintf("item %d ends before it starts", i), nil)
		}
		out = append(out, models.TimeSegment{Start: FormatTimecode(start), End: FormatTimecode(end)})
	}
	return out, nil
}

const defaultPrompt = `Bạn là AI chuyên chia video thành các đoạn thời gian.

Nhiệm vụ: Chia video có độ dài %[1]s thành các đoạn 5 phút.

Yêu cầu:
- Mỗi đoạn dài 5 phút (300 giây)
- Format thời gian: HH:MM:SS
- Đoạn cuối có thể ngắn hơn 5 phút nếu video không chia hết
- Chỉ trả về JSON, không thêm text khác
- Đảm bảo các đoạn liên tục và không bỏ sót thời gian
- Luôn tạo ít nhất 2 đoạn nếu video dài hơn 5 phút

Ví dụ cho video 12:30:
{
  "items": [
    {"start": "00:00:00", "end": "00:05:00"},
    {"start": "00:05:00", "end": "00:10:00"},
    {"start": "00:10:00", "end": "00:12:30"}
  ]
}

Trả về JSON cho video %[1]s. Chỉ trả về JSON, không thêm text khác:`
