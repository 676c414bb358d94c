package adapter

import "context"

// CompletionEvent is delivered once per job when it reaches a terminal state.
type CompletionEvent struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	ResultRef string `json:"result_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CompletionNotifier delivers the completion callback. Delivery failures are
// logged, not retried; the fire-once guarantee lives with the caller.
type CompletionNotifier interface {
	Notify(ctx context.Context, target string, ev CompletionEvent) error
}
