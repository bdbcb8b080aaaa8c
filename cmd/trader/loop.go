package main

import (
	"context"
	"log/slog"
	"time"

	"optiontrader/config"
	"optiontrader/internal/broker"
	"optiontrader/internal/markethours"
	"optiontrader/internal/metrics"
	"optiontrader/internal/notification"
	"optiontrader/internal/trader"
)

// cycleRunner is satisfied by *trader.Session.
type cycleRunner interface {
	RunCycle(ctx context.Context) (trader.CycleResult, error)
}

// runLoop runs one cycle per poll interval while the market is open and
// sleeps until the next open otherwise. It returns when ctx is cancelled.
// Cycles never overlap and a running cycle is not interrupted by shutdown.
func runLoop(ctx context.Context, cfg *config.Config, cal *markethours.Calendar, sess cycleRunner,
	health *metrics.HealthStatus, prom *metrics.Metrics, notifier notification.Notifier) {
	lg := slog.With("component", "scheduler")
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		now := time.Now()
		open := !cfg.MarketHoursOnly || cal.IsOpen(now)
		health.SetMarketOpen(open)
		prom.MarketState.Set(metrics.Bool(open))

		if !open {
			wait := cal.UntilOpen(now)
			lg.Info("market closed", "status", cal.Status(now), "sleep", wait.Truncate(time.Second).String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			ticker.Reset(cfg.PollInterval)
			continue
		}

		runOnce(ctx, cfg.CycleTimeout, sess, notifier)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, timeout time.Duration, sess cycleRunner, notifier notification.Notifier) {
	// detached from shutdown so an in-flight order completes
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	_, err := sess.RunCycle(cctx)
	if err != nil && !broker.IsTransient(err) {
		notification.Notify(cctx, notifier, notification.FailureAlert("Trading cycle failed", err))
	}
}
