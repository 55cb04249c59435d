package segment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
)

const (
	// WindowSeconds is the length of every segment but the last.
	WindowSeconds = 300

	// EmergencySeconds is assumed when a duration reply contains no usable
	// number.
	EmergencySeconds = 300

	// MaxDurationSeconds bounds a parsed duration. Anything longer is treated
	// as unparseable.
	MaxDurationSeconds = 24 * 3600
)

var (
	hmsPattern    = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})`)
	msPattern     = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	digitsPattern = regexp.MustCompile(`(\d+)`)
)

// FormatTimecode renders seconds as HH:MM:SS.
func FormatTimecode(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ParseTimecode accepts HH:MM:SS, MM:SS or plain seconds.
func ParseTimecode(s string) (int, error) {
	const op = "segment.ParseTimecode"

	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) == 0 || len(fields) > 3 {
		return 0, errors.Upstream(op, errors.KindParse, 0, fmt.Sprintf("invalid timecode %q", s), nil)
	}

	total := 0
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, errors.Upstream(op, errors.KindParse, 0, fmt.Sprintf("invalid timecode %q", s), err)
		}
		if i > 0 && n >= 60 {
			return 0, errors.Upstream(op, errors.KindParse, 0, fmt.Sprintf("invalid timecode %q", s), nil)
		}
		total = total*60 + n
	}
	return total, nil
}

// ParseDuration extracts a duration from free-form model output. It tries
// HH:MM:SS, then MM:SS, then a bare number of seconds, and finally falls
// back to EmergencySeconds. Durations above MaxDurationSeconds also fall
// back. format names the rule that matched.
func ParseDuration(text string) (seconds int, format string) {
	seconds, format = matchDuration(text)
	if format == "" || seconds > MaxDurationSeconds {
		return EmergencySeconds, "fallback"
	}
	return seconds, format
}

func matchDuration(text string) (int, string) {
	if m := hmsPattern.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		return h*3600 + mi*60 + s, "HH:MM:SS"
	}
	if m := msPattern.FindStringSubmatch(text); m != nil {
		mi, _ := strconv.Atoi(m[1])
		s, _ := strconv.Atoi(m[2])
		return mi*60 + s, "MM:SS"
	}
	if m := digitsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, "seconds"
		}
	}
	return 0, ""
}

// Split partitions [0, total] into consecutive windows. The last window is
// truncated to total.
func Split(total, window int) []models.TimeSegment {
	if window <= 0 {
		window = WindowSeconds
	}
	var segments []models.TimeSegment
	for start := 0; start < total; start += window {
		end := start + window
		if end > total {
			end = total
		}
		segments = append(segments, models.TimeSegment{
			Start: FormatTimecode(start),
			End:   FormatTimecode(end),
		})
	}
	return segments
}

// CreateSegments splits the first HH:MM:SS found in durationText into
// five-minute windows.
func CreateSegments(durationText string) ([]models.TimeSegment, error) {
	const op = "segment.CreateSegments"

	m := hmsPattern.FindStringSubmatch(durationText)
	if m == nil {
		return nil, errors.Upstream(op, errors.KindParse, 0, "Could not extract duration from response", nil)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return Split(h*3600+mi*60+s, WindowSeconds), nil
}

// CheckCoverage reports whether segments start at zero and follow each other
// without gaps or overlaps. When total is not negative the last segment must
// also end at total.
func CheckCoverage(segments []models.TimeSegment, total int) error {
	const op = "segment.CheckCoverage"

	prev := 0
	for i, seg := range segments {
		start, err := ParseTimecode(seg.Start)
		if err != nil {
			return err
		}
		end, err := ParseTimecode(seg.End)
		if err != nil {
			return err
		}
		if start != prev {
			return errors.Upstream(op, errors.KindParse, 0,
				fmt.Sprintf("segment %d starts at %s, expected %s", i+1, seg.Start, FormatTimecode(prev)), nil)
		}
		prev = end
	}
	if total >= 0 && prev != total {
		return errors.Upstream(op, errors.KindParse, 0,
			fmt.Sprintf("segments end at %s, expected %s", FormatTimecode(prev), FormatTimecode(total)), nil)
	}
	return nil
}

// Emergency is the single segment used when nothing else yields one.
func Emergency() []models.TimeSegment {
	return []models.TimeSegment{{Start: FormatTimecode(0), End: FormatTimecode(EmergencySeconds)}}
}

// Span returns the total number of seconds covered by segments. Segments
// that fail to parse count as zero.
func Span(segments []models.TimeSegment) int {
	total := 0
	for _, seg := range segments {
		start, err1 := ParseTimecode(seg.Start)
		end, err2 := ParseTimecode(seg.End)
		if err1 != nil || err2 != nil || end < start {
			continue
		}
		total += end - start
	}
	return total
}
