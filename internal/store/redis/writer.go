// Package redis publishes trading events to Redis: a capped stream for
// replay, a latest-value key per event type and a pub/sub channel for live
// subscribers.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"optiontrader/internal/events"
)

const (
	eventStream      = "trader:events"
	eventChannel     = "pub:trader:events"
	latestPrefix     = "trader:latest:"
	streamMaxLen     = 5000
	defaultLatestTTL = 24 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes events to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "component", "redis", "addr", cfg.Addr)
	return &Writer{client: client}, nil
}

// Publish appends ev to the event stream, stores it as the latest event of
// its type and publishes it, all in one pipeline.
func (w *Writer) Publish(ctx context.Context, ev events.Event) error {
	data := string(ev.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": data,
		},
	})
	pipe.Set(ctx, latestPrefix+string(ev.Type), data, defaultLatestTTL)
	pipe.Publish(ctx, eventChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event pipeline (%s): %w", ev.Type, err)
	}
	return nil
}

// Recent returns up to n of the newest events from the stream, oldest first.
func (w *Writer) Recent(ctx context.Context, n int64) ([]string, error) {
	msgs, err := w.client.XRevRangeN(ctx, eventStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", eventStream, err)
	}
	out := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if s, ok := msgs[i].Values["data"].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
