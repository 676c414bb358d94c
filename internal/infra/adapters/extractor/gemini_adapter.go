package extractor

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"pdf2md/internal/domain/ports/adapter"
)

var _ adapter.PageExtractor = (*GeminiAdapter)(nil)

// GeminiAdapter extracts Markdown from a page using the official SDK.
// Gemini accepts the single-page PDF inline, so no rasterization step is
// needed in front of it.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) Extract(ctx context.Context, req adapter.ExtractRequest) (string, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultUserPrompt
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: req.Data}},
			{Text: prompt},
		},
	}}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.maxOut),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelOrDefault(req.Model, g.defaultModel), contents, cfg)
	if err != nil {
		return "", &adapter.ExtractError{Provider: "gemini", Retryable: true, Err: err}
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		if t := resp.Candidates[0].Content.Parts[0].Text; t != "" {
			text = t
		}
	}
	if text == "" {
		return "", &adapter.ExtractError{Provider: "gemini", Retryable: true, Err: errors.New("empty response")}
	}
	return text, nil
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}
