// Package position decides and executes exits for open positions.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"optiontrader/internal/broker"
	"optiontrader/internal/events"
	"optiontrader/internal/execution"
	"optiontrader/internal/logger"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/internal/notification"
	"optiontrader/internal/options"
	"optiontrader/internal/strategy"
)

// Exit reasons.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonSignalFlip = "signal_flip"
)

// Store is the part of the trade state store the manager mutates.
type Store interface {
	Positions() []model.Position
	ClosePosition(symbol string, paperDelta decimal.Decimal) error
}

// Journal records fills.
type Journal interface {
	RecordFill(f execution.Fill) error
}

// Config configures a Manager.
type Config struct {
	StopLoss float64 // fraction of the entry level
	Mode     string  // "paper" or "live", for alerts and events
}

// Manager walks the open positions once per cycle and exits those whose stop
// was hit or whose direction the latest flip opposes. A position is removed
// from the store only after its exit order succeeds.
type Manager struct {
	cfg    Config
	store  Store
	placer execution.Placer
	quotes options.Quoter

	// Optional collaborators
	Journal  Journal
	Notifier notification.Notifier
	Events   *events.Bus
	Metrics  *metrics.Metrics

	now func() time.Time
	log *slog.Logger
}

// NewManager creates a position manager.
func NewManager(cfg Config, store Store, placer execution.Placer, quotes options.Quoter) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		placer: placer,
		quotes: quotes,
		now:    time.Now,
		log:    slog.With("component", "position"),
	}
}

// Exit is a completed exit.
type Exit struct {
	Position  model.Position
	Reason    string
	ExitPrice float64
	OrderID   string
}

// ExitReason returns why p should be closed at underlying level spot given
// the latest flip signal, or "" to keep it.
func ExitReason(p model.Position, spot, stopLoss float64, sig strategy.Signal) string {
	if spot > 0 && p.StopHit(spot, stopLoss) {
		return ReasonStopLoss
	}
	if sig.Opposes(p.Direction) {
		return ReasonSignalFlip
	}
	return ""
}

// Run checks every open position against spot and sig and exits those that
// qualify. Failed exits leave the position open for the next cycle; their
// errors are joined into the returned error.
func (m *Manager) Run(ctx context.Context, spot float64, sig strategy.Signal) ([]Exit, error) {
	var (
		exits []Exit
		errs  []error
	)
	for _, p := range m.store.Positions() {
		reason := ExitReason(p, spot, m.cfg.StopLoss, sig)
		if reason == "" {
			m.log.Debug("position held", append(logger.LogWithTrace(ctx),
				"symbol", p.Symbol, "direction", p.Direction, "spot", spot,
				"stop", p.StopLevel(m.cfg.StopLoss))...)
			continue
		}
		ex, err := m.exit(ctx, p, spot, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		exits = append(exits, ex)
	}
	if m.Metrics != nil {
		m.Metrics.OpenPositions.Set(float64(len(m.store.Positions())))
	}
	return exits, errors.Join(errs...)
}

func (m *Manager) exit(ctx context.Context, p model.Position, spot float64, reason string) (Exit, error) {
	log := m.log.With(logger.LogWithTrace(ctx)...).With("symbol", p.Symbol, "reason", reason)

	ltp, err := m.optionLTP(ctx, p)
	if err != nil {
		m.orderFailed(ctx, p, err)
		return Exit{}, err
	}

	req := model.OrderRequest{
		Symbol:   p.Symbol,
		Token:    p.Token,
		Exchange: p.Exchange,
		Price:    ltp,
		Quantity: p.Quantity,
		IsExit:   true,
	}
	res, err := m.placer.Place(ctx, req)
	if err == nil && !res.OK() {
		err = fmt.Errorf("exit %s: order not accepted", p.Symbol)
	}
	if err != nil {
		m.orderFailed(ctx, p, err)
		return Exit{}, err
	}

	if err := m.store.ClosePosition(p.Symbol, res.PaperDelta()); err != nil {
		// The broker filled the exit but the store still holds the position.
		log.Error("exit filled but state not saved", "order_id", res.OrderID(), "error", err)
		notification.Notify(ctx, m.Notifier, notification.FailureAlert("State save failed after exit "+p.Symbol, err))
		return Exit{}, fmt.Errorf("close %s: %w", p.Symbol, err)
	}

	ex := Exit{Position: p, Reason: reason, ExitPrice: ltp, OrderID: res.OrderID()}
	if res.Paper != nil {
		ex.ExitPrice = res.Paper.Price
	}
	log.Info("position closed", "order_id", ex.OrderID, "exit_price", ex.ExitPrice,
		"entry_level", p.EntryPrice, "spot", spot, "qty", p.Quantity)

	if m.Metrics != nil {
		m.Metrics.ExitsTotal.WithLabelValues(reason).Inc()
	}
	if m.Journal != nil {
		if err := m.Journal.RecordFill(execution.NewFill(req, res, p.Direction, spot, reason, m.now())); err != nil {
			log.Warn("journal write failed", "error", err)
		}
	}
	notification.Notify(ctx, m.Notifier, notification.ExitAlert(p, m.cfg.Mode, reason, ex.ExitPrice, spot))
	m.Events.Emit(ctx, events.PositionClosed, events.PositionClosedData{
		Position:   p,
		Reason:     reason,
		ExitPrice:  ex.ExitPrice,
		Underlying: spot,
		OrderID:    ex.OrderID,
		Mode:       m.cfg.Mode,
	})
	return ex, nil
}

func (m *Manager) optionLTP(ctx context.Context, p model.Position) (float64, error) {
	q, err := m.quotes.Quotes(ctx, p.Exchange, []string{p.Token})
	if err != nil {
		return 0, broker.Transient("exit quote", err)
	}
	ltp, ok := q[p.Token]
	if !ok || ltp <= 0 {
		return 0, broker.Transient("exit quote", fmt.Errorf("no quote for %s", p.Symbol))
	}
	return ltp, nil
}

func (m *Manager) orderFailed(ctx context.Context, p model.Position, err error) {
	m.log.Warn("exit failed, position stays open",
		append(logger.LogWithTrace(ctx), "symbol", p.Symbol, "error", err)...)
	if m.Metrics != nil {
		m.Metrics.OrderFailures.WithLabelValues(string(model.Sell)).Inc()
	}
	notification.Notify(ctx, m.Notifier, notification.FailureAlert("Exit failed for "+p.Symbol, err))
}
