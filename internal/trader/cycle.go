package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/events"
	"optiontrader/internal/execution"
	"optiontrader/internal/logger"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/internal/notification"
	"optiontrader/internal/position"
	"optiontrader/internal/strategy"
)

// Reasons a cycle did not enter.
const (
	SkipPositionOpen = "position_open"
	SkipCooldown     = "cooldown"
	SkipNoData       = "no_data"
	SkipNoSignal     = "no_signal"
	SkipNoContract   = "no_affordable_option"
)

// CycleResult summarises one cycle.
type CycleResult struct {
	TraceID  string
	Spot     float64
	Decision strategy.Decision
	Exits    []position.Exit
	Entered  *model.Position
	OrderID  string
	Skipped  string
}

// RunCycle runs one decision cycle. Broker failures abort the cycle and come
// back as errors; state is only changed by successful orders.
func (s *Session) RunCycle(ctx context.Context) (CycleResult, error) {
	start := s.now()
	traceID := logger.GenerateTraceID("cycle", start)
	ctx = logger.WithTraceID(ctx, traceID)

	res, err := s.runCycle(ctx)
	res.TraceID = traceID
	s.finish(ctx, start, res, err)
	return res, err
}

func (s *Session) runCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	log := s.log.With(logger.LogWithTrace(ctx)...)

	spot, err := s.Spot.SpotPrice(ctx)
	if err != nil {
		return res, fmt.Errorf("spot: %w", err)
	}
	res.Spot = spot

	candles, err := s.Market.HistoricalCandles(ctx, s.cfg.SymbolToken, s.cfg.Exchange, s.cfg.Interval)
	if err != nil {
		return s.stopLossOnly(ctx, res, spot, fmt.Errorf("history: %w", err))
	}
	dec, err := s.Evaluator.Evaluate(candles)
	if err != nil {
		return s.stopLossOnly(ctx, res, spot, err)
	}
	res.Decision = dec
	s.recordDecision(dec)

	res.Exits, err = s.Exits.Run(ctx, spot, dec.Flip)
	if err != nil {
		return res, fmt.Errorf("exits: %w", err)
	}

	if s.Store.Count() > 0 {
		res.Skipped = SkipPositionOpen
		return res, nil
	}
	if last := s.Store.LastTradeAt(); !last.IsZero() && s.now().Sub(last) < s.cfg.CooldownPeriod {
		log.Info("entry blocked by cooldown", "last_trade", last, "cooldown", s.cfg.CooldownPeriod)
		res.Skipped = SkipCooldown
		return res, nil
	}
	if len(candles) == 0 {
		res.Skipped = SkipNoData
		return res, nil
	}
	dir, ok := dec.Entry.Direction()
	if !ok {
		if dec.Flip != strategy.SignalNone {
			log.Info("flip not confirmed by trend", "flip", dec.Flip, "uptrend", dec.Row.Uptrend)
		}
		res.Skipped = SkipNoSignal
		return res, nil
	}

	balance, err := s.Account.Balance(ctx)
	if err != nil {
		return res, fmt.Errorf("balance: %w", broker.Transient("balance", err))
	}
	capital := balance * s.cfg.TradeAllocation

	contract, err := s.Selector.FindAffordable(ctx, s.cfg.OptionExpiry, capital, dir)
	if err != nil {
		return res, fmt.Errorf("select option: %w", err)
	}
	if contract == nil {
		log.Info("no affordable option", "direction", dir, "capital", capital)
		res.Skipped = SkipNoContract
		return res, nil
	}

	lots := Lots(capital, contract.LTP, contract.LotSize)
	if lots < 1 {
		res.Skipped = SkipNoContract
		return res, nil
	}

	pos, orderID, err := s.enter(ctx, contract, dir, lots, spot)
	if err != nil {
		return res, err
	}
	res.Entered = &pos
	res.OrderID = orderID
	return res, nil
}

// stopLossOnly runs the exit pass without a flip signal when no decision
// could be made, so stops still fire, and returns cause.
func (s *Session) stopLossOnly(ctx context.Context, res CycleResult, spot float64, cause error) (CycleResult, error) {
	exits, err := s.Exits.Run(ctx, spot, strategy.SignalNone)
	res.Exits = exits
	if err != nil {
		return res, errors.Join(cause, fmt.Errorf("exits: %w", err))
	}
	return res, cause
}

// Lots returns how many whole lots of premium ltp fit in capital.
func Lots(capital, ltp float64, lotSize int) int64 {
	if ltp <= 0 || lotSize <= 0 || capital <= 0 {
		return 0
	}
	return int64(math.Floor(capital / (ltp * float64(lotSize))))
}

func (s *Session) enter(ctx context.Context, c *model.OptionContract, dir model.Direction, lots int64, spot float64) (model.Position, string, error) {
	log := s.log.With(logger.LogWithTrace(ctx)...)
	req := model.OrderRequest{
		Symbol:   c.Symbol,
		Token:    c.Token,
		Exchange: c.Exchange,
		Price:    c.LTP,
		Quantity: lots * int64(c.LotSize),
	}

	res, err := s.Placer.Place(ctx, req)
	if err == nil && !res.OK() {
		err = errors.New("order not accepted")
	}
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.OrderFailures.WithLabelValues(string(model.Buy)).Inc()
		}
		notification.Notify(ctx, s.Notifier, notification.FailureAlert("Entry failed for "+c.Symbol, err))
		return model.Position{}, "", fmt.Errorf("entry %s: %w", c.Symbol, err)
	}

	fillPrice := c.LTP
	if res.Paper != nil {
		fillPrice = res.Paper.Price
	}
	now := s.now()
	pos := model.Position{
		Symbol:      c.Symbol,
		Token:       c.Token,
		Exchange:    c.Exchange,
		EntryPrice:  spot,
		OptionPrice: fillPrice,
		Quantity:    req.Quantity,
		Direction:   dir,
		EnteredAt:   now,
	}
	if err := s.Store.OpenPosition(pos, now, res.PaperDelta()); err != nil {
		log.Error("entry filled but state not saved", "order_id", res.OrderID(), "symbol", c.Symbol, "error", err)
		notification.Notify(ctx, s.Notifier, notification.FailureAlert("State save failed after entry "+c.Symbol, err))
		return model.Position{}, "", fmt.Errorf("open %s: %w", c.Symbol, err)
	}

	log.Info("position opened",
		"order_id", res.OrderID(), "symbol", c.Symbol, "direction", dir, "qty", req.Quantity,
		"lots", lots, "option_price", fillPrice, "entry_level", spot, "strike", c.Strike)

	if s.Metrics != nil {
		s.Metrics.EntriesTotal.WithLabelValues(string(dir)).Inc()
	}
	if s.Journal != nil {
		if err := s.Journal.RecordFill(execution.NewFill(req, res, dir, spot, "entry", now)); err != nil {
			log.Warn("journal write failed", "error", err)
		}
	}
	notification.Notify(ctx, s.Notifier, notification.EntryAlert(pos, s.cfg.Mode))
	s.Events.Emit(ctx, events.PositionOpened, events.PositionOpenedData{Position: pos, OrderID: res.OrderID(), Mode: s.cfg.Mode})
	return pos, res.OrderID(), nil
}

func (s *Session) recordDecision(d strategy.Decision) {
	if s.Metrics == nil {
		return
	}
	if d.Row.Defined {
		s.Metrics.Supertrend.Set(d.Row.Supertrend)
		s.Metrics.Uptrend.Set(metrics.Bool(d.Row.Uptrend))
	}
	if d.Flip != strategy.SignalNone {
		confirmed := "false"
		if d.Entry != strategy.SignalNone {
			confirmed = "true"
		}
		s.Metrics.SignalsTotal.WithLabelValues(d.Flip.String(), confirmed).Inc()
	}
}

// finish records the cycle outcome in metrics, health and the event feed.
func (s *Session) finish(ctx context.Context, start time.Time, res CycleResult, err error) {
	open := s.Store.Count()
	log := s.log.With(logger.LogWithTrace(ctx)...)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case res.Skipped != "" && res.Skipped != SkipPositionOpen:
		result = "skipped"
	}

	if s.Metrics != nil {
		s.Metrics.CyclesTotal.WithLabelValues(result).Inc()
		s.Metrics.CycleDuration.Observe(s.now().Sub(start).Seconds())
		s.Metrics.OpenPositions.Set(float64(open))
		if res.Spot > 0 {
			s.Metrics.SpotPrice.Set(res.Spot)
		}
		if s.cfg.Mode == "paper" {
			s.Metrics.PaperBalance.Set(s.Store.PaperBalance().InexactFloat64())
		}
	}
	if s.Health != nil {
		s.Health.RecordCycle(start, open, err)
		s.Health.SetBrokerOK(err == nil || !broker.IsTransient(err))
	}

	data := events.CycleData{
		Spot:          res.Spot,
		Exits:         len(res.Exits),
		Entered:       res.Entered != nil,
		Signal:        res.Decision.Flip.String(),
		Skipped:       res.Skipped,
		OpenPositions: open,
	}
	if err != nil {
		data.Error = err.Error()
		log.Warn("cycle aborted", "error", err, "transient", broker.IsTransient(err))
		s.Events.Emit(ctx, events.CycleFailed, data)
		return
	}
	log.Info("cycle complete", "spot", res.Spot, "flip", res.Decision.Flip, "entry_signal", res.Decision.Entry,
		"exits", len(res.Exits), "entered", res.Entered != nil, "skipped", res.Skipped, "open_positions", open)
	s.Events.Emit(ctx, events.CycleCompleted, data)
}
