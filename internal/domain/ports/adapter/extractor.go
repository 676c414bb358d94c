package adapter

import (
	"context"
	"fmt"
)

// ExtractRequest carries one page to the extractor capability.
type ExtractRequest struct {
	Data     []byte
	MIMEType string
	Model    string
	Prompt   string
}

// PageExtractor turns a page object into extracted Markdown text.
type PageExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (string, error)
}

// ExtractError is the typed per-page failure. Retryable failures are retried
// up to the task's attempt cap; non-retryable ones burn an attempt the same
// way but are worth distinguishing in logs.
type ExtractError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract (%s): %v", e.Provider, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }
