package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Analyzer runs a complete analysis for one input.
type Analyzer interface {
	Analyze(ctx context.Context, input Input) (*Result, error)
}

// Pipeline wires the builder, sender and parser together.
type Pipeline struct {
	builder *Builder
	sender  Sender
	parser  *Parser
}

// NewPipeline creates a pipeline. The parser follows the builder's variant
// so the instruction and the decoded schema always agree.
func NewPipeline(builder *Builder, sender Sender) *Pipeline {
	return &Pipeline{
		builder: builder,
		sender:  sender,
		parser:  NewParser(builder.Variant()),
	}
}

// Analyze validates input, sends it and decodes the response. Nothing is
// sent when validation fails.
func (p *Pipeline) Analyze(ctx context.Context, input Input) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	req := p.builder.Build(input)

	envelope, err := p.sender.Send(ctx, req)
	if err != nil {
		log.Warn().Err(err).
			Str("variant", string(p.builder.Variant())).
			Int("imageCount", len(input.Images)).
			Msg("analysis request failed")
		return nil, err
	}

	result, err := p.parser.Parse(envelope)
	if err != nil {
		log.Warn().Err(err).
			Str("variant", string(p.builder.Variant())).
			Int("envelopeBytes", len(envelope)).
			Msg("analysis response rejected")
		return nil, err
	}

	log.Info().
		Str("model", p.builder.Model()).
		Str("variant", string(p.builder.Variant())).
		Int("imageCount", len(input.Images)).
		Int("textRunes", len([]rune(input.FreeText))).
		Int("possibility", result.CouplePossibility).
		Dur("took", time.Since(started)).
		Msg("analysis complete")

	return result, nil
}
