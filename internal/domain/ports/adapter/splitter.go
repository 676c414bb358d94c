package adapter

import "context"

// PageSplitter renders a source PDF into per-page objects and returns their
// object-store keys ordered by page number. A corrupt or zero-page document
// is a split failure.
type PageSplitter interface {
	Split(ctx context.Context, jobID string, pdf []byte) ([]string, error)
}
