// Package angel implements the broker collaborators on top of the Angel One
// SmartAPI client.
package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/logger"
	"optiontrader/internal/markethours"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/pkg/smartconnect"
)

// API is the subset of *smartconnect.SmartConnect the adapter uses.
type API interface {
	RMSLimit(ctx context.Context) (map[string]any, error)
	GetCandleData(ctx context.Context, params map[string]any) (map[string]any, error)
	GetMarketData(ctx context.Context, mode string, exchangeTokens map[string][]string) (map[string]any, error)
	Position(ctx context.Context) (map[string]any, error)
	PlaceOrder(ctx context.Context, params map[string]any) (string, error)
	ScripMaster(ctx context.Context) ([]smartconnect.ScripRecord, error)
}

// Session makes sure a valid login exists before an authenticated call.
type Session interface {
	Ensure(ctx context.Context) error
}

// Config configures the adapter.
type Config struct {
	HistoryDays   int           // lookback for historical candles
	SpotToken     string        // token of the underlying index, e.g. 99926000
	SpotExchange  string        // exchange of the underlying, e.g. NSE
	InstrumentTTL time.Duration // instrument master refresh period; default 12h
}

const (
	candleTimeLayout = "2006-01-02 15:04"
	modeLTP          = "LTP"
)

// Broker implements broker.Account, broker.MarketData, broker.PositionBook,
// broker.OrderPlacer, broker.OptionChain and broker.SpotSource.
type Broker struct {
	api         API
	cfg         Config
	session     Session
	metrics     *metrics.Metrics
	instruments *Instruments
	now         func() time.Time
	log         *slog.Logger
}

// New creates the adapter. session and m may be nil.
func New(api API, cfg Config, session Session, m *metrics.Metrics) *Broker {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 5
	}
	if cfg.SpotExchange == "" {
		cfg.SpotExchange = "NSE"
	}
	b := &Broker{
		api:     api,
		cfg:     cfg,
		session: session,
		metrics: m,
		now:     time.Now,
		log:     slog.With("component", "angel"),
	}
	b.instruments = NewInstruments(api, cfg.InstrumentTTL)
	return b
}

// Instruments returns the instrument master cache.
func (b *Broker) Instruments() *Instruments { return b.instruments }

// call runs fn as the broker operation op, ensuring the session first. Any
// failure comes back as a broker.TransientError.
func (b *Broker) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := b.ensure(ctx)
	if err == nil {
		err = fn(ctx)
	}
	if b.metrics != nil {
		b.metrics.BrokerCallDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			b.metrics.BrokerErrors.WithLabelValues(op).Inc()
		}
	}
	if err != nil {
		b.log.Warn("broker call failed", append(logger.LogWithTrace(ctx), "op", op, "error", err)...)
		return broker.Transient(op, err)
	}
	return nil
}

func (b *Broker) ensure(ctx context.Context) error {
	if b.session == nil {
		return nil
	}
	return b.session.Ensure(ctx)
}

// Balance returns the available cash from the RMS limits.
func (b *Broker) Balance(ctx context.Context) (float64, error) {
	var bal float64
	err := b.call(ctx, "balance", func(ctx context.Context) error {
		res, err := b.api.RMSLimit(ctx)
		if err != nil {
			return err
		}
		data, ok := res["data"].(map[string]any)
		if !ok {
			return errors.New("rms limit: no data")
		}
		v, ok := number(data["availablecash"])
		if !ok {
			return fmt.Errorf("rms limit: bad availablecash %v", data["availablecash"])
		}
		bal = v
		return nil
	})
	return bal, err
}

// HistoricalCandles returns the last HistoryDays of candles, oldest first.
// Malformed rows are skipped; a response without data is an empty result.
func (b *Broker) HistoricalCandles(ctx context.Context, symbolToken, exchange, interval string) ([]model.Candle, error) {
	to := b.now().In(markethours.IST)
	from := to.AddDate(0, 0, -b.cfg.HistoryDays)

	var candles []model.Candle
	err := b.call(ctx, "candles", func(ctx context.Context) error {
		res, err := b.api.GetCandleData(ctx, map[string]any{
			"exchange":    exchange,
			"symboltoken": symbolToken,
			"interval":    interval,
			"fromdate":    from.Format(candleTimeLayout),
			"todate":      to.Format(candleTimeLayout),
		})
		if err != nil {
			return err
		}
		rows, _ := res["data"].([]any)
		candles = make([]model.Candle, 0, len(rows))
		skipped := 0
		for _, r := range rows {
			c, ok := parseCandle(r)
			if !ok {
				skipped++
				continue
			}
			candles = append(candles, c)
		}
		if skipped > 0 {
			b.log.Warn("skipped malformed candle rows", append(logger.LogWithTrace(ctx), "skipped", skipped, "kept", len(candles))...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })
	return candles, nil
}

// parseCandle decodes a [ts, open, high, low, close, volume] row.
func parseCandle(v any) (model.Candle, bool) {
	row, ok := v.([]any)
	if !ok || len(row) < 6 {
		return model.Candle{}, false
	}
	s, _ := row[0].(string)
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return model.Candle{}, false
	}
	var ohlc [4]float64
	for i := range ohlc {
		f, ok := number(row[i+1])
		if !ok {
			return model.Candle{}, false
		}
		ohlc[i] = f
	}
	vol, _ := number(row[5])
	return model.Candle{TS: ts, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3], Volume: int64(vol)}, true
}

// Quotes returns the LTP of each token. Tokens the broker does not price are
// absent from the result.
func (b *Broker) Quotes(ctx context.Context, exchange string, tokens []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}
	err := b.call(ctx, "quotes", func(ctx context.Context) error {
		res, err := b.api.GetMarketData(ctx, modeLTP, map[string][]string{exchange: tokens})
		if err != nil {
			return err
		}
		data, _ := res["data"].(map[string]any)
		fetched, _ := data["fetched"].([]any)
		for _, f := range fetched {
			q, ok := f.(map[string]any)
			if !ok {
				continue
			}
			tok, _ := q["symbolToken"].(string)
			ltp, ok := number(q["ltp"])
			if tok == "" || !ok {
				continue
			}
			out[tok] = ltp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SpotPrice returns the LTP of the configured underlying index.
func (b *Broker) SpotPrice(ctx context.Context) (float64, error) {
	q, err := b.Quotes(ctx, b.cfg.SpotExchange, []string{b.cfg.SpotToken})
	if err != nil {
		return 0, err
	}
	p, ok := q[b.cfg.SpotToken]
	if !ok || p <= 0 {
		return 0, broker.Transient("spot", fmt.Errorf("no quote for %s:%s", b.cfg.SpotExchange, b.cfg.SpotToken))
	}
	return p, nil
}

// OpenPositions returns the rows of the net position book with non-zero
// quantity.
func (b *Broker) OpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var out []model.BrokerPosition
	err := b.call(ctx, "positions", func(ctx context.Context) error {
		res, err := b.api.Position(ctx)
		if err != nil {
			return err
		}
		rows, _ := res["data"].([]any)
		for _, r := range rows {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			qty, _ := number(m["netqty"])
			if qty == 0 {
				continue
			}
			avg, _ := number(m["avgnetprice"])
			ltp, _ := number(m["ltp"])
			p := model.BrokerPosition{NetQty: int64(qty), AvgPrice: avg, LTP: ltp}
			p.TradingSymbol, _ = m["tradingsymbol"].(string)
			p.Token, _ = m["symboltoken"].(string)
			p.Exchange, _ = m["exchange"].(string)
			p.ProductType, _ = m["producttype"].(string)
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// PlaceOrder submits an intraday market order: BUY for entries, SELL for exits.
func (b *Broker) PlaceOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	var orderID string
	err := b.call(ctx, "place_order", func(ctx context.Context) error {
		id, err := b.api.PlaceOrder(ctx, map[string]any{
			"variety":         "NORMAL",
			"tradingsymbol":   req.Symbol,
			"symboltoken":     req.Token,
			"transactiontype": string(req.Side()),
			"exchange":        req.Exchange,
			"ordertype":       "MARKET",
			"producttype":     "INTRADAY",
			"duration":        "DAY",
			"quantity":        strconv.FormatInt(req.Quantity, 10),
		})
		orderID = id
		return err
	})
	return orderID, err
}

// Expiries lists the option expiries of underlying, earliest first.
func (b *Broker) Expiries(ctx context.Context, underlying string) ([]time.Time, error) {
	out, err := b.instruments.Expiries(ctx, underlying)
	return out, broker.Transient("expiries", err)
}

// Contracts lists the option contracts of one expiry and side.
func (b *Broker) Contracts(ctx context.Context, underlying string, expiry time.Time, side model.OptionType) ([]model.Instrument, error) {
	out, err := b.instruments.Contracts(ctx, underlying, expiry, side)
	return out, broker.Transient("contracts", err)
}

// OptionLTP returns the last traded price of an option by trading symbol.
func (b *Broker) OptionLTP(ctx context.Context, symbol string) (float64, error) {
	inst, err := b.instruments.Lookup(ctx, symbol)
	if err != nil {
		return 0, broker.Transient("option ltp", err)
	}
	q, err := b.Quotes(ctx, inst.Exchange, []string{inst.Token})
	if err != nil {
		return 0, err
	}
	ltp, ok := q[inst.Token]
	if !ok {
		return 0, broker.Transient("option ltp", fmt.Errorf("no quote for %s", symbol))
	}
	return ltp, nil
}

// number reads a JSON number or a numeric string.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
