// Package gemini implements transcript analysis on the Gemini API.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/analysis"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Analyzer implements analysis.Analyzer against the Gemini API with JSON
// response mode so output decodes directly into an analysis.Result.
type Analyzer struct {
	client *genai.Client
	model  string
}

// New creates a Gemini analyzer. Model may be empty.
func New(ctx context.Context, apiKey, model string) (*Analyzer, error) {
	if apiKey == "" {
		return nil, core.NewInvalidRequestError("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Analyzer{client: client, model: model}, nil
}

// Analyze sends one transcript line for analysis and decodes the structured
// result.
func (a *Analyzer) Analyze(ctx context.Context, session *core.CallSession, elder *core.Elder, line core.TranscriptLine) (*analysis.Result, error) {
	prompt := analysis.BuildPrompt(session, elder, line)

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(analysis.SystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.2),
		})
	if err != nil {
		return nil, core.NewCollaboratorError("gemini", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, core.NewCollaboratorError("gemini", fmt.Errorf("empty response"))
	}
	return analysis.ParseResult(text)
}
