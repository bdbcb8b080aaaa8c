// Package events carries trading events from the engine to external sinks
// (Redis, the websocket feed).
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"optiontrader/internal/logger"
	"optiontrader/internal/model"
)

// Type names an event.
type Type string

const (
	PositionOpened Type = "position_opened"
	PositionClosed Type = "position_closed"
	CycleCompleted Type = "cycle_completed"
	CycleFailed    Type = "cycle_failed"
)

// Event is the envelope every sink receives.
type Event struct {
	Type    Type            `json:"type"`
	Time    time.Time       `json:"ts"`
	TraceID string          `json:"trace_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// JSON returns the JSON-encoded event (ignoring errors for logging use).
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// PositionOpenedData is the payload of PositionOpened.
type PositionOpenedData struct {
	Position model.Position `json:"position"`
	OrderID  string         `json:"order_id"`
	Mode     string         `json:"mode"`
}

// PositionClosedData is the payload of PositionClosed.
type PositionClosedData struct {
	Position   model.Position `json:"position"`
	Reason     string         `json:"reason"`
	ExitPrice  float64        `json:"exit_price"`
	Underlying float64        `json:"underlying"`
	OrderID    string         `json:"order_id"`
	Mode       string         `json:"mode"`
}

// CycleData is the payload of CycleCompleted and CycleFailed.
type CycleData struct {
	Spot          float64 `json:"spot"`
	Exits         int     `json:"exits"`
	Entered       bool    `json:"entered"`
	Signal        string  `json:"signal,omitempty"`
	Skipped       string  `json:"skipped,omitempty"`
	OpenPositions int     `json:"open_positions"`
	Error         string  `json:"error,omitempty"`
}

// Sink delivers events somewhere.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type namedSink struct {
	name string
	sink Sink
}

// Bus fans events out to every registered sink. Delivery failures are logged
// and counted; they never reach the caller.
type Bus struct {
	mu      sync.RWMutex
	sinks   []namedSink
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	// Callbacks (optional, for metrics)
	OnPublished func(sink string)
	OnDropped   func(sink string)
}

// NewBus creates a bus that bounds each sink delivery by timeout.
func NewBus(timeout time.Duration) *Bus {
	return &Bus{timeout: timeout, now: time.Now, log: slog.With("component", "events")}
}

// Add registers a sink under name.
func (b *Bus) Add(name string, s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
	b.mu.Unlock()
}

// Emit builds an event from payload and delivers it to all sinks.
func (b *Bus) Emit(ctx context.Context, typ Type, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("event marshal failed", "type", typ, "error", err)
		return
	}
	ev := Event{Type: typ, Time: b.now(), TraceID: logger.TraceID(ctx), Data: data}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := b.deliver(ctx, s.sink, ev); err != nil {
			b.log.Warn("event delivery failed", "sink", s.name, "type", typ, "error", err)
			if b.OnDropped != nil {
				b.OnDropped(s.name)
			}
			continue
		}
		if b.OnPublished != nil {
			b.OnPublished(s.name)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s Sink, ev Event) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return s.Publish(ctx, ev)
}
