// Package trader runs the decision cycle: exits first, then at most one new
// entry on a confirmed Supertrend signal.
package trader

import (
	"context"
	"log/slog"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/events"
	"optiontrader/internal/execution"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/internal/notification"
	"optiontrader/internal/position"
	"optiontrader/internal/strategy"

	"github.com/shopspring/decimal"
)

// Store is the part of the trade state store the session needs.
type Store interface {
	Count() int
	LastTradeAt() time.Time
	OpenPosition(p model.Position, at time.Time, paperDelta decimal.Decimal) error
	PaperBalance() decimal.Decimal
}

// Selector finds the option contract to buy for a direction.
type Selector interface {
	FindAffordable(ctx context.Context, expiry string, capital float64, dir model.Direction) (*model.OptionContract, error)
}

// Exiter runs the per-cycle exit checks.
type Exiter interface {
	Run(ctx context.Context, spot float64, sig strategy.Signal) ([]position.Exit, error)
}

// Config holds the cycle parameters.
type Config struct {
	SymbolToken     string // underlying token for history
	Exchange        string // underlying exchange
	Interval        string // candle interval, e.g. FIVE_MINUTE
	OptionExpiry    string // empty selects the nearest expiry
	TradeAllocation float64
	CooldownPeriod  time.Duration
	Mode            string // "paper" or "live"
}

// Deps are the session's collaborators. Journal, Notifier, Events, Metrics
// and Health may be nil.
type Deps struct {
	Store     Store
	Spot      broker.SpotSource
	Market    broker.MarketData
	Account   broker.Account // the paper executor in paper mode
	Selector  Selector
	Placer    execution.Placer
	Exits     Exiter
	Evaluator *strategy.Evaluator

	Journal  position.Journal
	Notifier notification.Notifier
	Events   *events.Bus
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Session owns everything a cycle touches. Tests build a fresh Session with
// fakes; the binary builds one at startup.
type Session struct {
	cfg Config
	Deps

	now func() time.Time
	log *slog.Logger
}

// NewSession creates a trading session.
func NewSession(cfg Config, deps Deps) *Session {
	return &Session{
		cfg:  cfg,
		Deps: deps,
		now:  time.Now,
		log:  slog.With("component", "trader"),
	}
}
