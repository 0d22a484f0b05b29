// Package analysis builds relationship-analysis requests, sends them to the
// inference backend and decodes the structured result.
package analysis

import (
	"unicode/utf8"

	"github.com/raine/myakuari-bot/internal/imageproc"
)

const (
	// MaxImages is the number of photos a single analysis accepts.
	MaxImages = 3
	// MaxFreeTextRunes bounds the user's description.
	MaxFreeTextRunes = 300

	imageMIMEType = "image/jpeg"
	roleUser      = "user"
)

// Input is what the user has collected for one analysis.
type Input struct {
	FreeText string
	Images   []imageproc.Blob
}

// Validate reports ErrNoInput when there is neither text nor an image.
func (in Input) Validate() error {
	if in.FreeText == "" && len(in.Images) == 0 {
		return ErrNoInput
	}
	if len(in.Images) > MaxImages {
		return ErrTooManyImages
	}
	return nil
}

// TruncateFreeText cuts text to MaxFreeTextRunes characters.
func TruncateFreeText(text string) string {
	if utf8.RuneCountInString(text) <= MaxFreeTextRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxFreeTextRunes])
}

// Request is the wire body sent to the inference proxy.
type Request struct {
	ModelName         string           `json:"model_name"`
	SystemInstruction *Content         `json:"system_instruction,omitempty"`
	Contents          []Content        `json:"contents"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`

	// Variant selects the structured-output schema for backends that
	// accept one. The proxy wire format has no such field.
	Variant Variant `json:"-"`
}

// Content is one turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part carries either text or inline image data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData is a base64 encoded media payload.
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerationConfig holds the sampling parameters for a request.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// Result is the canonical analysis outcome.
type Result struct {
	CouplePossibility     int    `json:"couple_possibility"`
	JudgmentReason        string `json:"judgment_reason"`
	ImprovementSuggestion string `json:"improvement_suggestion"`
	EncouragementMessage  string `json:"encouragement_message"`

	// Confidence is only reported by the emotional-index schema.
	Confidence *int `json:"-"`
}
