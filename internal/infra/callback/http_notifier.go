package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pdf2md/internal/domain/ports/adapter"
)

var _ adapter.CompletionNotifier = (*HTTPNotifier)(nil)

// HTTPNotifier POSTs the completion event to the job's callback target.
type HTTPNotifier struct {
	client *http.Client
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{client: &http.Client{Timeout: timeout}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, target string, ev adapter.CompletionEvent) error {
	if target == "" {
		return nil // caller did not ask for a callback
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback http %d", resp.StatusCode)
	}
	return nil
}
