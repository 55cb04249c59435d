package script

import (
	"strconv"
	"strings"

	"github.com/nijaru/yt-script/models"
)

const wordCountPlaceholder = "4500–5000 chữ"

// BuildPrompt specialises the settings' template for one run.
func BuildPrompt(s models.Settings) string {
	prompt := s.Prompt
	if prompt == "" {
		prompt = models.DefaultPrompt
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(prompt, wordCountPlaceholder, strconv.Itoa(s.WordCount)+" chữ"))

	if s.MainCharacter != "" && s.MainCharacter != models.DefaultMainCharacter {
		b.WriteString("\n\nTên nhân vật chính: " + s.MainCharacter)
	}
	if s.WritingStyle != models.StyleHumorous {
		b.WriteString("\n\nPhong cách viết: " + s.WritingStyle)
	}
	if s.Language != models.LanguageVietnamese {
		b.WriteString("\n\nNgôn ngữ: " + s.Language)
	}
	b.WriteString("\n\n" + CreativityInstruction(s.Creativity))

	return b.String()
}

// CreativityInstruction maps a 1-10 creativity level to a writing directive.
func CreativityInstruction(level int) string {
	switch {
	case level <= 3:
		return "Viết theo cách bảo thủ, bám sát nội dung gốc, ít sáng tạo."
	case level <= 6:
		return "Viết cân bằng giữa bám sát nội dung và sáng tạo."
	case level <= 8:
		return "Viết sáng tạo, thêm nhiều yếu tố hài hước và kịch tính."
	}
	return "Viết rất sáng tạo, tối đa hóa yếu tố giải trí và bất ngờ."
}
