package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GeminiClientOpts configures a GeminiClient.
type GeminiClientOpts struct {
	APIKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// GeminiClient sends requests straight to the Gemini API through the SDK and
// hands back the same envelope shape the proxy returns.
type GeminiClient struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiClient creates a direct Gemini client.
func NewGeminiClient(ctx context.Context, opts GeminiClientOpts) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, timeout: opts.Timeout}, nil
}

// envelope mirrors the proxy's response body.
type envelope struct {
	Candidates []envelopeCandidate `json:"candidates"`
}

type envelopeCandidate struct {
	Content envelopeContent `json:"content"`
}

type envelopeContent struct {
	Parts []envelopePart `json:"parts"`
}

type envelopePart struct {
	Text string `json:"text"`
}

// Send implements Sender.
func (g *GeminiClient) Send(ctx context.Context, req *Request) ([]byte, error) {
	contents, config, err := toGenai(req)
	if err != nil {
		return nil, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, req.ModelName, contents, config)
	if err != nil {
		return nil, classifyGenaiError(err)
	}

	env := envelope{Candidates: []envelopeCandidate{}}
	for _, c := range result.Candidates {
		ec := envelopeCandidate{Content: envelopeContent{Parts: []envelopePart{}}}
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p.Text != "" {
					ec.Content.Parts = append(ec.Content.Parts, envelopePart{Text: p.Text})
				}
			}
		}
		env.Candidates = append(env.Candidates, ec)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	logEvent := log.Info().
		Str("model", req.ModelName).
		Int("candidates", len(result.Candidates)).
		Dur("took", time.Since(started))
	if result.UsageMetadata != nil {
		logEvent = logEvent.
			Int32("inputTokens", result.UsageMetadata.PromptTokenCount).
			Int32("outputTokens", result.UsageMetadata.CandidatesTokenCount)
	}
	logEvent.Msg("analysis gemini call")

	return data, nil
}

func toGenai(req *Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var contents []*genai.Content
	for _, c := range req.Contents {
		parts := make([]*genai.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: inline data: %v", ErrSerialization, err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, p.InlineData.MIMEType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		role := genai.Role(c.Role)
		if role == "" {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	gen := req.GenerationConfig
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(gen.Temperature)),
		TopP:             genai.Ptr(float32(gen.TopP)),
		TopK:             genai.Ptr(float32(gen.TopK)),
		MaxOutputTokens:  int32(gen.MaxOutputTokens),
		ResponseMIMEType: "application/json",
	}
	if req.SystemInstruction != nil && len(req.SystemInstruction.Parts) > 0 {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction.Parts[0].Text, genai.RoleUser)
	}
	if req.Variant != "" {
		config.ResponseSchema = req.Variant.ResponseSchema()
	}

	return contents, config, nil
}

// classifyGenaiError turns API errors into EnvelopeError and everything else
// into TransportError.
func classifyGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &EnvelopeError{Code: apiErr.Code, Message: apiErr.Message, Status: apiErr.Status, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &EnvelopeError{Code: apiErrPtr.Code, Message: apiErrPtr.Message, Status: apiErrPtr.Status, Err: err}
	}
	return &TransportError{Message: err.Error(), Err: err}
}
