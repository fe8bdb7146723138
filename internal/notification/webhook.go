package notification

import (
	"context"
	"fmt"
	"log"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url string
	// Headers are added to every request, e.g. an Authorization token.
	Headers map[string]string
	poster
}

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	TS      string     `json:"ts,omitempty"`
	SentAt  string     `json:"sent_at"`
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, poster: newPoster()}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Symbol:  alert.Symbol,
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !alert.TS.IsZero() {
		payload.TS = alert.TS.UTC().Format(time.RFC3339)
	}

	status, _, err := w.post(ctx, w.url, w.Headers, payload)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", status)
	}
	log.Printf("[webhook] sent alert to %s: %s", w.url, alert.Title)
	return nil
}
