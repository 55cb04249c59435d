package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?(youtube\.com/watch\?v=|youtu\.be/)[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/embed/[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/v/[\w-]+`),
}

var apiKeyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{20,}$`)

// settingsMessages maps a Settings field to its user facing message, in the
// order messages are reported.
var settingsMessages = []struct {
	field   string
	tag     string
	message string
}{
	{"Prompt", "min", "Prompt template is too short (minimum 50 characters)"},
	{"Prompt", "", "Prompt template is required"},
	{"WordCount", "", "Word count must be between 100 and 20000"},
	{"WritingStyle", "", "Invalid writing style"},
	{"MainCharacter", "", "Main character name is required"},
	{"Language", "", "Invalid language selection"},
	{"Creativity", "", "Creativity level must be between 1 and 10"},
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("register notblank: %v", err))
	}
	return &Validator{validate: v}
}

// ValidateURL accepts YouTube watch, short, embed and /v/ links.
func (v *Validator) ValidateURL(rawURL string) error {
	const op = "Validator.ValidateURL"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return errors.InvalidInput(op, nil, "URL is required")
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return errors.InvalidInput(op, err, "Invalid URL format")
	}
	for _, p := range youtubePatterns {
		if p.MatchString(rawURL) {
			return nil
		}
	}
	return errors.InvalidInput(op, nil, "Invalid YouTube URL")
}

// ValidateSettings reports every invalid field in one message joined by ", ".
func (v *Validator) ValidateSettings(s models.Settings) error {
	const op = "Validator.ValidateSettings"

	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.InvalidInput(op, err, "Invalid settings")
	}

	failed := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		failed[fe.StructField()] = fe.Tag()
	}

	var messages []string
	reported := make(map[string]bool)
	for _, m := range settingsMessages {
		tag, bad := failed[m.field]
		if !bad || reported[m.field] {
			continue
		}
		if m.tag != "" && m.tag != tag {
			continue
		}
		messages = append(messages, m.message)
		reported[m.field] = true
	}

	// Fields without a mapped message still surface.
	var rest []string
	for field, tag := range failed {
		if !reported[field] {
			rest = append(rest, fmt.Sprintf("%s is invalid (%s)", field, tag))
		}
	}
	sort.Strings(rest)
	messages = append(messages, rest...)

	return errors.InvalidInput(op, err, strings.Join(messages, ", "))
}

// ValidateAPIKey checks the shape of a Gemini API key.
func (v *Validator) ValidateAPIKey(key string) error {
	const op = "Validator.ValidateAPIKey"

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.InvalidInput(op, nil, "API key is required")
	}
	if !apiKeyPattern.MatchString(key) {
		return errors.InvalidInput(op, nil, "Invalid API key format")
	}
	return nil
}

func (v *Validator) ValidateTranscript(transcript string) error {
	const op = "Validator.ValidateTranscript"

	if strings.TrimSpace(transcript) == "" {
		return errors.InvalidInput(op, nil, "Transcript is required")
	}
	return nil
}
