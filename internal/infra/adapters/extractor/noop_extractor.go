package extractor

import (
	"context"
	"fmt"
	"time"

	"pdf2md/internal/domain/ports/adapter"
)

var _ adapter.PageExtractor = (*NoopExtractor)(nil)

// NoopExtractor implements the page extractor for local/dev testing. It
// returns a placeholder fragment instead of calling a real model.
type NoopExtractor struct{}

func NewNoopExtractor() *NoopExtractor {
	return &NoopExtractor{}
}

func (n *NoopExtractor) Extract(ctx context.Context, req adapter.ExtractRequest) (string, error) {
	// Simulate slight processing time and respect ctx
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return fmt.Sprintf("<!-- noop extraction, %d bytes -->\n", len(req.Data)), nil
}
