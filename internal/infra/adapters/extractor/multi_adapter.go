package extractor

import (
	"context"
	"errors"
	"strings"

	"pdf2md/internal/domain/ports/adapter"
)

var _ adapter.PageExtractor = (*MultiAdapter)(nil)

// MultiAdapter routes extraction requests to a provider by model name, so a
// single worker pool can serve jobs pinned to different models.
type MultiAdapter struct {
	defaultProvider string // e.g., "gemini" or "openai"
	byProvider      map[string]adapter.PageExtractor
}

func NewMultiAdapter(defaultProvider string, byProvider map[string]adapter.PageExtractor) *MultiAdapter {
	return &MultiAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
	}
}

func (m *MultiAdapter) resolveProvider(model string) string {
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAdapter) Extract(ctx context.Context, req adapter.ExtractRequest) (string, error) {
	prov := m.resolveProvider(req.Model)
	ex := m.byProvider[prov]
	if ex == nil {
		// last resort: first available
		for _, a := range m.byProvider {
			if a != nil {
				ex = a
				break
			}
		}
	}
	if ex == nil {
		return "", &adapter.ExtractError{Provider: prov, Retryable: false, Err: errors.New("no extractor provider configured")}
	}
	return ex.Extract(ctx, req)
}
