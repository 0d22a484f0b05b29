package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Parser decodes response envelopes into Results for one schema variant.
type Parser struct {
	variant Variant
}

// NewParser creates a parser for the variant.
func NewParser(variant Variant) *Parser {
	return &Parser{variant: variant}
}

// Parse extracts candidates[0].content.parts[0].text from the envelope and
// decodes it against the variant's schema. It never returns a partial result.
func (p *Parser) Parse(envelope []byte) (*Result, error) {
	var top any
	if err := json.Unmarshal(envelope, &top); err != nil {
		return nil, &EnvelopeError{Malformed: true, Err: err}
	}
	obj, ok := top.(map[string]any)
	if !ok {
		return nil, &EnvelopeError{Malformed: true, Err: fmt.Errorf("top level is %s, not an object", jsonKind(top))}
	}

	if raw, ok := obj["error"]; ok && raw != nil {
		return nil, apiError(raw)
	}

	text, err := candidateText(obj)
	if err != nil {
		return nil, err
	}

	return p.decode(text)
}

// ExtractText returns the model text from an envelope without decoding it.
func (p *Parser) ExtractText(envelope []byte) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(envelope, &obj); err != nil {
		return "", &EnvelopeError{Malformed: true, Err: err}
	}
	if raw, ok := obj["error"]; ok && raw != nil {
		return "", apiError(raw)
	}
	return candidateText(obj)
}

func apiError(raw any) *EnvelopeError {
	e := &EnvelopeError{}
	detail, ok := raw.(map[string]any)
	if !ok {
		e.Message = fmt.Sprint(raw)
		return e
	}
	if code, ok := detail["code"].(float64); ok {
		e.Code = int(code)
	}
	e.Message, _ = detail["message"].(string)
	e.Status, _ = detail["status"].(string)
	return e
}

func candidateText(obj map[string]any) (string, error) {
	candidates, ok := obj["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return "", &ShapeError{Path: "candidates[0]"}
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return "", &ShapeError{Path: "candidates[0]"}
	}
	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return "", &ShapeError{Path: "candidates[0].content"}
	}
	parts, ok := content["parts"].([]any)
	if !ok || len(parts) == 0 {
		return "", &ShapeError{Path: "candidates[0].content.parts[0]"}
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return "", &ShapeError{Path: "candidates[0].content.parts[0]"}
	}
	text, ok := part["text"].(string)
	if !ok {
		return "", &ShapeError{Path: "candidates[0].content.parts[0].text"}
	}
	return text, nil
}

type coupleWire struct {
	CouplePossibility     *int    `json:"couple_possibility"`
	JudgmentReason        *string `json:"judgment_reason"`
	ImprovementSuggestion *string `json:"improvement_suggestion"`
	EncouragementMessage  *string `json:"encouragement_message"`
}

type emotionalWire struct {
	ComprehensiveEmotionalIndex *int    `json:"comprehensive_emotional_index"`
	ConfidenceScore             *int    `json:"confidence_score"`
	RatingReason                *string `json:"rating_reason"`
	SupplementSuggestion        *string `json:"supplement_suggestion"`
}

func (p *Parser) decode(text string) (*Result, error) {
	doc := []byte(stripCodeFence(text))

	if p.variant == VariantEmotional {
		var w emotionalWire
		if err := unmarshalObject(doc, &w); err != nil {
			return nil, err
		}
		if err := requireFields(map[string]bool{
			"comprehensive_emotional_index": w.ComprehensiveEmotionalIndex != nil,
			"confidence_score":              w.ConfidenceScore != nil,
			"rating_reason":                 w.RatingReason != nil,
			"supplement_suggestion":         w.SupplementSuggestion != nil,
		}); err != nil {
			return nil, err
		}
		if err := inRange("comprehensive_emotional_index", *w.ComprehensiveEmotionalIndex); err != nil {
			return nil, err
		}
		if err := inRange("confidence_score", *w.ConfidenceScore); err != nil {
			return nil, err
		}
		confidence := *w.ConfidenceScore
		return &Result{
			CouplePossibility:     *w.ComprehensiveEmotionalIndex,
			JudgmentReason:        *w.RatingReason,
			ImprovementSuggestion: *w.SupplementSuggestion,
			Confidence:            &confidence,
		}, nil
	}

	var w coupleWire
	if err := unmarshalObject(doc, &w); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]bool{
		"couple_possibility":     w.CouplePossibility != nil,
		"judgment_reason":        w.JudgmentReason != nil,
		"improvement_suggestion": w.ImprovementSuggestion != nil,
		"encouragement_message":  w.EncouragementMessage != nil,
	}); err != nil {
		return nil, err
	}
	if err := inRange("couple_possibility", *w.CouplePossibility); err != nil {
		return nil, err
	}
	return &Result{
		CouplePossibility:     *w.CouplePossibility,
		JudgmentReason:        *w.JudgmentReason,
		ImprovementSuggestion: *w.ImprovementSuggestion,
		EncouragementMessage:  *w.EncouragementMessage,
	}, nil
}

func unmarshalObject(doc []byte, v any) error {
	if err := json.Unmarshal(doc, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return &SchemaError{Detail: "text must be a JSON object, got " + typeErr.Value, Err: err}
			}
			return &SchemaError{
				Detail: fmt.Sprintf("field %q must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value),
				Err:    err,
			}
		}
		return &SchemaError{Detail: "text is not valid JSON: " + err.Error(), Err: err}
	}
	return nil
}

func requireFields(present map[string]bool) error {
	var missing []string
	for name, ok := range present {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &SchemaError{Detail: "missing required fields: " + strings.Join(missing, ", ")}
}

func inRange(field string, v int) error {
	if v < 1 || v > 100 {
		return &SchemaError{Detail: fmt.Sprintf("field %q must be between 1 and 100, got %d", field, v)}
	}
	return nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if the model
// added one despite being asked not to.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}

