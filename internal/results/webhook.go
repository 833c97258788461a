package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
)

// EventCompleted is sent in the X-Oralexam-Event header of every webhook call.
const EventCompleted = "assessment.completed"

// Webhook is a [Saver] that POSTs each result as JSON to a URL.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

var _ Saver = (*Webhook)(nil)

// WebhookOption configures a [Webhook].
type WebhookOption func(*Webhook)

// WithWebhookToken sends token as a bearer Authorization header.
func WithWebhookToken(token string) WebhookOption {
	return func(w *Webhook) { w.token = token }
}

// WithWebhookClient replaces the default HTTP client (10s timeout).
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook returns a webhook for url.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("results: webhook url must not be empty")
	}
	w := &Webhook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Save implements [Saver]. Any non-2xx response is an error.
func (w *Webhook) Save(ctx context.Context, r *exam.AssessmentResult) error {
	if err := Validate(r); err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results: webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("results: webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Oralexam-Event", EventCompleted)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("results: webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("results: webhook: unexpected status %s", resp.Status)
	}
	return nil
}
