package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/nijaru/yt-script/models"
)

// SegmentSeparator joins per-segment transcripts.
const SegmentSeparator = "\n\n--- Segment Break ---\n\n"

func DurationPrompt(videoURL string) string {
	return fmt.Sprintf(`Analyze this specific YouTube video and determine its total duration in [hh:mm:ss] format.

Video URL: %s

Please focus ONLY on this specific video and return ONLY the duration in [hh:mm:ss] format.`, videoURL)
}

func ScenePrompt(seg models.TimeSegment) string {
	return fmt.Sprintf(`Extract shareable clips for social media.
Only analyze 5 minute from %s to %s.
Do not skip any timeframe within this range. Break clips strictly by scene changes.

Each clip must include:
* Timestamp: [hh:mm:ss]-[hh:mm:ss]
* Transcript: Verbatim dialogue/text within the clip.
* Description: Describe the scene in chronological order. When the scene changes, start a new bullet point. Only describe events within the specified time range.

How to describe:
- Setting and environment: background, location, lighting, time of day, and other details.
- Characters' clothing and expressions: outfits, facial expressions, body language, and emotions.
- Actions and interactions: exact actions, interactions between characters, and camera movements such as panning, zooming, close-up, or wide shot.

Start output directly with the response -- do not include any introductory text or explanations.`, seg.Start, seg.End)
}

// EstimatedTime is display-only: 1.5 minutes per segment plus 5 for the
// final step.
func EstimatedTime(segments int) string {
	return fmt.Sprintf("Khoảng %d phút", int(math.Ceil(float64(segments)*1.5+5)))
}

func chatPrompt(req models.ChatRequest) string {
	history := make([]string, 0, len(req.ChatHistory))
	for _, msg := range req.ChatHistory {
		speaker := "AI"
		if msg.Role == "user" {
			speaker = "Người dùng"
		}
		history = append(history, speaker+": "+msg.Content)
	}

	return fmt.Sprintf(`Bạn là trợ lý AI chuyên chỉnh sửa bình luận YouTube. Nhiệm vụ của bạn là:

1. Hiểu yêu cầu chỉnh sửa từ người dùng
2. Chỉnh sửa bình luận gốc theo yêu cầu
3. Trả về bình luận đã chỉnh sửa
4. Giải thích ngắn gọn những thay đổi đã thực hiện

Bình luận gốc:
%s

Lịch sử chat:
%s

Yêu cầu mới: %s

Hãy trả về theo format JSON:
{
  "response": "Giải thích ngắn gọn về những thay đổi",
  "updatedResult": "Bình luận đã chỉnh sửa"
}`, req.OriginalResult, strings.Join(history, "\n"), req.Message)
}

const (
	DefaultTitle        = "Video đã xử lý"
	TranscriptOnlyTitle = "📝 Transcript hoàn chỉnh"
	ScriptOnlyTitle     = "🎭 Script hoàn chỉnh (từ transcript)"
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`)

// VideoTitle labels a run by the first characters of its video id.
func VideoTitle(videoURL string) string {
	m := videoIDPattern.FindStringSubmatch(videoURL)
	if m == nil {
		return DefaultTitle
	}
	id := m[1]
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("Video %s...", id)
}
