package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Webhook POSTs announcements as JSON. Transport errors, 429 and 5xx
// answers are retried with exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the retry count. Default: 3.
func WithWebhookRetries(n int) WebhookOption { return func(w *Webhook) { w.maxRetries = n } }

// WithWebhookBackoff sets the first retry delay, doubled on each retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.backoff = d } }

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption { return func(w *Webhook) { w.client = c } }

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendReady(ctx context.Context, r shot.Ready) error {
	return w.post(ctx, r.SessionID, envelope{Type: "ready", Data: r})
}

func (w *Webhook) SendFailed(ctx context.Context, f Failed) error {
	return w.post(ctx, f.SessionID, envelope{Type: "failed", Data: f})
}

func (w *Webhook) Close() error { return nil }

// post delivers one announcement. 4xx answers other than 429 are final;
// the receiver will not accept a replay of the same body.
func (w *Webhook) post(ctx context.Context, id string, e envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := range w.maxRetries + 1 {
		if attempt > 0 {
			t := time.NewTimer(w.backoff << (attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		retry, err := w.deliver(ctx, id, e.Type, body)
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed", "id", id, "event", e.Type, "attempt", attempt+1, "error", err)
		if !retry {
			break
		}
	}
	return fmt.Errorf("webhook: %s %s: %w", e.Type, id, lastErr)
}

func (w *Webhook) deliver(ctx context.Context, id, event string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Snapflow-Event", event)
	req.Header.Set("X-Snapflow-Capture", id)

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, fmt.Errorf("status %d", resp.StatusCode)
	}
	return false, fmt.Errorf("status %d", resp.StatusCode)
}
