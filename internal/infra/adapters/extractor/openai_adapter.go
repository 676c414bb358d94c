package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pdf2md/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PageExtractor = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements the page extractor against any Chat
// Completions-compatible endpoint. Pages are attached as base64 file or
// image content parts depending on MIME type.
type OpenAIAdapter struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
}

func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		apiKey: apiKey,
		base:   baseURL,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (o *OpenAIAdapter) Extract(ctx context.Context, req adapter.ExtractRequest) (string, error) {
	model := modelOrDefault(req.Model, o.model)
	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultUserPrompt
	}

	attachment, err := contentPart(req.MIMEType, req.Data)
	if err != nil {
		return "", &adapter.ExtractError{Provider: "openai", Retryable: false, Err: err}
	}

	reqBody := map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": SystemPrompt},
			{"role": "user", "content": []map[string]interface{}{
				attachment,
				{"type": "text", "text": prompt},
			}},
		},
	}

	b, _ := json.Marshal(reqBody)
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", &adapter.ExtractError{Provider: "openai", Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		// 4xx other than rate limiting will not get better on retry.
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", &adapter.ExtractError{
			Provider:  "openai",
			Retryable: retryable,
			Err:       fmt.Errorf("openai http %d", resp.StatusCode),
		}
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &adapter.ExtractError{Provider: "openai", Retryable: true, Err: err}
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", &adapter.ExtractError{Provider: "openai", Retryable: true, Err: errors.New("empty response")}
}

func contentPart(mimeType string, data []byte) (map[string]interface{}, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	switch {
	case mimeType == "application/pdf":
		return map[string]interface{}{
			"type": "file",
			"file": map[string]interface{}{
				"filename":  "page.pdf",
				"file_data": "data:application/pdf;base64," + encoded,
			},
		}, nil
	case strings.HasPrefix(mimeType, "image/"):
		return map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": "data:" + mimeType + ";base64," + encoded,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported page MIME type %q", mimeType)
	}
}
