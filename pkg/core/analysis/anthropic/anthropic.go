// Package anthropic implements transcript analysis on the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/analysis"
)

// DefaultModel is used when no model is configured.
const DefaultModel = anthropic.ModelClaudeSonnet4_0

// DefaultMaxTokens bounds the analysis response. Results are small JSON
// objects; this leaves generous headroom.
const DefaultMaxTokens = 2048

// Analyzer implements analysis.Analyzer using the official Anthropic client.
type Analyzer struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates an Anthropic analyzer. Model may be empty.
func New(apiKey, model string) (*Analyzer, error) {
	if apiKey == "" {
		return nil, core.NewInvalidRequestError("anthropic api key is required")
	}
	m := DefaultModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Analyzer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

// Analyze sends one transcript line for analysis and decodes the structured
// result.
func (a *Analyzer) Analyze(ctx context.Context, session *core.CallSession, elder *core.Elder, line core.TranscriptLine) (*analysis.Result, error) {
	prompt := analysis.BuildPrompt(session, elder, line)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: DefaultMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: analysis.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(0.2),
	})
	if err != nil {
		return nil, core.NewCollaboratorError("anthropic", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return nil, core.NewCollaboratorError("anthropic", fmt.Errorf("empty response"))
	}
	return analysis.ParseResult(text)
}
