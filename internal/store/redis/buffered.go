package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"optiontrader/internal/events"
)

// BufferedPublisher wraps an event sink with a circuit breaker.
// While the circuit is open, events are buffered locally and replayed in
// order once it closes again.
type BufferedPublisher struct {
	inner events.Sink
	cb    *CircuitBreaker

	mu     sync.Mutex
	buffer []events.Event
	maxBuf int // max buffered events before dropping oldest (default: 1000)

	// flushTimeout bounds each replayed publish.
	flushTimeout time.Duration

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedPublisher creates a BufferedPublisher over inner.
func NewBufferedPublisher(inner events.Sink, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		inner:        inner,
		cb:           cb,
		buffer:       make([]events.Event, 0, 64),
		maxBuf:       maxBufferSize,
		flushTimeout: 5 * time.Second,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// Publish sends ev through the circuit breaker. If the circuit is open the
// event is buffered and Publish returns nil.
func (bp *BufferedPublisher) Publish(ctx context.Context, ev events.Event) error {
	err := bp.cb.Execute(func() error {
		return bp.inner.Publish(ctx, ev)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferEvent(ev)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferEvent(ev events.Event) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full, drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, ev)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered events through the inner sink.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]events.Event, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		ctx, cancel := context.WithTimeout(context.Background(), bp.flushTimeout)
		err := bp.inner.Publish(ctx, ev)
		cancel()
		if err != nil {
			slog.Warn("buffered event replay failed", "component", "redis", "type", ev.Type, "error", err)
			continue
		}
		flushed++
	}

	slog.Info("flushed buffered events", "component", "redis", "count", flushed, "buffered", len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
