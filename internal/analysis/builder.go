package analysis

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const freeTextLabel = "対話内容:"

// Builder assembles requests for a fixed model and schema variant.
type Builder struct {
	model      string
	variant    Variant
	generation GenerationConfig
}

// NewBuilder creates a builder using the variant's default sampling parameters
// with any overrides applied.
func NewBuilder(model string, variant Variant, overrides GenerationOverrides) *Builder {
	return &Builder{
		model:      model,
		variant:    variant,
		generation: overrides.Apply(variant.DefaultGenerationConfig()),
	}
}

// Variant returns the schema variant the builder targets.
func (b *Builder) Variant() Variant {
	return b.variant
}

// Model returns the model name put into every request.
func (b *Builder) Model() string {
	return b.model
}

// Build creates the request body for input. The single user turn holds one
// text part followed by one inline JPEG part per image.
func (b *Builder) Build(input Input) *Request {
	parts := make([]Part, 0, 1+len(input.Images))
	parts = append(parts, Part{Text: userText(input)})
	for _, img := range input.Images {
		parts = append(parts, Part{
			InlineData: &InlineData{
				MIMEType: imageMIMEType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	return &Request{
		ModelName: b.model,
		SystemInstruction: &Content{
			Parts: []Part{{Text: b.variant.SystemInstruction()}},
		},
		Contents: []Content{
			{Role: roleUser, Parts: parts},
		},
		GenerationConfig: b.generation,
		Variant:          b.variant,
	}
}

func userText(input Input) string {
	var sb strings.Builder
	sb.WriteString("画像説明:\n")
	if n := len(input.Images); n > 0 {
		fmt.Fprintf(&sb, "画像が%d枚提供されています。\n", n)
	} else {
		sb.WriteString("画像データはありません。\n")
	}
	sb.WriteString("\n")
	sb.WriteString(freeTextLabel)
	sb.WriteString("\n")
	sb.WriteString(input.FreeText)
	return sb.String()
}
