// Package notification delivers trading alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Field is a labelled detail attached to an alert, e.g. symbol or P&L.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Fields  []Field    `json:"fields,omitempty"`
}

func (a Alert) logAttrs() []any {
	attrs := make([]any, 0, 2+2*len(a.Fields))
	attrs = append(attrs, "message", a.Message)
	for _, f := range a.Fields {
		attrs = append(attrs, f.Key, f.Value)
	}
	return attrs
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	lvl := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		lvl = slog.LevelWarn
	case AlertCritical:
		lvl = slog.LevelError
	}
	n.log.Log(ctx, lvl, alert.Title, alert.logAttrs()...)
	return nil
}

// Multi sends every alert to all backends. A failing backend doesn't stop
// the others; the joined error is returned.
type Multi struct {
	backends []Notifier
	timeout  time.Duration
}

// NewMulti fans alerts out to backends, bounding each delivery by timeout.
func NewMulti(timeout time.Duration, backends ...Notifier) *Multi {
	return &Multi{backends: backends, timeout: timeout}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, b := range m.backends {
		if err := m.sendOne(ctx, b, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) sendOne(ctx context.Context, b Notifier, alert Alert) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return b.Send(ctx, alert)
}

// Notify sends alert and logs a delivery failure instead of returning it.
// Trading decisions never depend on alert delivery.
func Notify(ctx context.Context, n Notifier, alert Alert) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, alert); err != nil {
		slog.Warn("alert delivery failed", "component", "notify", "title", alert.Title, "error", err)
	}
}
