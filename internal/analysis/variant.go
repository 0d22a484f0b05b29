package analysis

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"google.golang.org/genai"
)

// Variant selects one of the two mutually exclusive result schemas together
// with the instruction text and sampling parameters that produce it.
type Variant string

const (
	// VariantCouple is the canonical schema: couple_possibility, judgment_reason,
	// improvement_suggestion, encouragement_message.
	VariantCouple Variant = "couple"
	// VariantEmotional is the earlier schema: comprehensive_emotional_index,
	// confidence_score, rating_reason, supplement_suggestion.
	VariantEmotional Variant = "emotional"
)

// ParseVariant maps a config value to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantCouple:
		return VariantCouple, nil
	case VariantEmotional:
		return VariantEmotional, nil
	}
	return "", fmt.Errorf("unknown schema variant %q", s)
}

var coupleInstruction = strings.TrimSpace(dedent.Dedent(`
	あなたは恋愛関係の分析を行うアシスタントです。
	ユーザーから提供される写真（二人の写真や会話のスクリーンショット）と関係の説明をもとに、
	二人がカップルになる可能性を判定してください。

	次のフィールドを持つ純粋な JSON オブジェクトのみを返してください（マークダウンや説明文は不要）：
	{
	  "couple_possibility": 1〜100 の整数,
	  "judgment_reason": "判定理由を1〜2文で",
	  "improvement_suggestion": "より仲良くなるための具体的なアドバイス",
	  "encouragement_message": "ユーザーへの前向きな応援メッセージ"
	}
`))

var emotionalInstruction = strings.TrimSpace(dedent.Dedent(`
	以下の説明に基づき、総合感情指数（1〜100）、信頼度（1〜100）、1文の評価理由、および追加入力の提案を提供してください。
	純粋な JSON フォーマットで返してください：
	{
	  "comprehensive_emotional_index": number,
	  "confidence_score": number,
	  "rating_reason": "summary sentence",
	  "supplement_suggestion": "additional info suggestion"
	}
`))

// SystemInstruction returns the natural-language task description for the variant.
func (v Variant) SystemInstruction() string {
	if v == VariantEmotional {
		return emotionalInstruction
	}
	return coupleInstruction
}

// ResponseSchema returns the structured-output schema matching the
// variant's result keys. Every field is required and scores are integers.
func (v Variant) ResponseSchema() *genai.Schema {
	var keys []string
	var properties map[string]*genai.Schema
	if v == VariantEmotional {
		keys = []string{"comprehensive_emotional_index", "confidence_score", "rating_reason", "supplement_suggestion"}
		properties = map[string]*genai.Schema{
			"comprehensive_emotional_index": scoreSchema("総合感情指数"),
			"confidence_score":              scoreSchema("信頼度"),
			"rating_reason":                 {Type: genai.TypeString, Description: "1文の評価理由"},
			"supplement_suggestion":         {Type: genai.TypeString, Description: "追加入力の提案"},
		}
	} else {
		keys = []string{"couple_possibility", "judgment_reason", "improvement_suggestion", "encouragement_message"}
		properties = map[string]*genai.Schema{
			"couple_possibility":     scoreSchema("カップルになる可能性"),
			"judgment_reason":        {Type: genai.TypeString, Description: "判定理由"},
			"improvement_suggestion": {Type: genai.TypeString, Description: "仲良くなるためのアドバイス"},
			"encouragement_message":  {Type: genai.TypeString, Description: "応援メッセージ"},
		}
	}

	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       properties,
		Required:         keys,
		PropertyOrdering: keys,
	}
}

func scoreSchema(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeInteger,
		Description: description + "（1〜100）",
		Minimum:     genai.Ptr(1.0),
		Maximum:     genai.Ptr(100.0),
	}
}

// DefaultGenerationConfig returns the sampling parameters tuned for the variant.
func (v Variant) DefaultGenerationConfig() GenerationConfig {
	if v == VariantEmotional {
		return GenerationConfig{Temperature: 0.0, TopP: 1.0, TopK: 1, MaxOutputTokens: 512}
	}
	return GenerationConfig{Temperature: 0.3, TopP: 0.95, TopK: 10, MaxOutputTokens: 512}
}

// GenerationOverrides replaces individual defaults when set.
type GenerationOverrides struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
}

// Apply returns cfg with every set override applied.
func (o GenerationOverrides) Apply(cfg GenerationConfig) GenerationConfig {
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if o.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *o.MaxOutputTokens
	}
	return cfg
}
