package notification

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to an arbitrary endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: httpTimeout}, now: time.Now}
}

type webhookPayload struct {
	Source  string            `json:"source"`
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	TS      string            `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	p := webhookPayload{
		Source:  "optiontrader",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	}
	if len(alert.Fields) > 0 {
		p.Fields = make(map[string]string, len(alert.Fields))
		for _, f := range alert.Fields {
			p.Fields[f.Key] = f.Value
		}
	}
	if err := postJSON(ctx, w.client, "webhook", w.url, p); err != nil {
		return err
	}
	slog.Debug("webhook alert sent", "component", "notify", "title", alert.Title)
	return nil
}
