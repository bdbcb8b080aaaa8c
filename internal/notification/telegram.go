package notification

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API, formatted as
// HTML.
type TelegramNotifier struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

var levelBadge = map[AlertLevel]string{
	AlertInfo:     "🟢",
	AlertWarning:  "🟠",
	AlertCritical: "🔴",
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	err := postJSON(ctx, t.client, "telegram", url, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     renderHTML(alert),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	slog.Debug("telegram alert sent", "component", "notify", "title", alert.Title)
	return nil
}

func renderHTML(a Alert) string {
	var b strings.Builder
	b.WriteString(levelBadge[a.Level])
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(a.Title))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(a.Message))
	if len(a.Fields) > 0 {
		b.WriteString("\n")
		for _, f := range a.Fields {
			fmt.Fprintf(&b, "\n<code>%s</code>: %s", html.EscapeString(f.Key), html.EscapeString(f.Value))
		}
	}
	return b.String()
}
