// Package options selects the option contract to trade for a direction.
package options

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/model"
)

// quoteBatch is the most tokens the quote endpoint accepts per call.
const quoteBatch = 50

// Quoter returns last traded prices keyed by token.
type Quoter interface {
	Quotes(ctx context.Context, exchange string, tokens []string) (map[string]float64, error)
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	Underlying string // e.g. NIFTY
	Exchange   string // derivatives segment, e.g. NFO
	DefaultLot int    // used when the instrument master has no lot size
	MaxQuotes  int    // cap on contracts priced per call; 0 means all
}

// Selector finds the closest-to-the-money contract whose lot fits a budget.
// LTPs are fetched on every call and never cached.
type Selector struct {
	cfg    SelectorConfig
	chain  broker.OptionChain
	quotes Quoter
	spot   broker.SpotSource
	now    func() time.Time
	log    *slog.Logger
}

// NewSelector creates a selector over the given chain, quote and spot sources.
func NewSelector(cfg SelectorConfig, chain broker.OptionChain, quotes Quoter, spot broker.SpotSource) *Selector {
	return &Selector{
		cfg:    cfg,
		chain:  chain,
		quotes: quotes,
		spot:   spot,
		now:    time.Now,
		log:    slog.With("component", "options"),
	}
}

// FindAffordable returns the contract for dir expiring on expiry (any accepted
// layout, or empty for the nearest expiry) whose strike is closest to spot and
// whose lot costs at most capital. It returns nil, nil when nothing qualifies.
func (s *Selector) FindAffordable(ctx context.Context, expiry string, capital float64, dir model.Direction) (*model.OptionContract, error) {
	if capital <= 0 {
		return nil, nil
	}

	expiries, err := s.chain.Expiries(ctx, s.cfg.Underlying)
	if err != nil {
		return nil, broker.Transient("list expiries", err)
	}
	exp, err := ResolveExpiry(expiry, expiries, s.now())
	if err != nil {
		return nil, err
	}

	side := dir.OptionType()
	contracts, err := s.chain.Contracts(ctx, s.cfg.Underlying, exp, side)
	if err != nil {
		return nil, broker.Transient("option chain", err)
	}
	if len(contracts) == 0 {
		s.log.Warn("empty option chain", "expiry", FormatExpiry(exp), "side", side)
		return nil, nil
	}

	spot, err := s.spot.SpotPrice(ctx)
	if err != nil {
		return nil, broker.Transient("spot price", err)
	}

	RankByMoneyness(contracts, spot, side)
	if s.cfg.MaxQuotes > 0 && len(contracts) > s.cfg.MaxQuotes {
		contracts = contracts[:s.cfg.MaxQuotes]
	}

	for start := 0; start < len(contracts); start += quoteBatch {
		end := start + quoteBatch
		if end > len(contracts) {
			end = len(contracts)
		}
		batch := contracts[start:end]
		tokens := make([]string, len(batch))
		for i := range batch {
			tokens[i] = batch[i].Token
		}
		ltps, err := s.quotes.Quotes(ctx, s.cfg.Exchange, tokens)
		if err != nil {
			return nil, broker.Transient("option quotes", err)
		}
		for i := range batch {
			inst := &batch[i]
			ltp := ltps[inst.Token]
			lot := inst.LotSize
			if lot <= 0 {
				lot = s.cfg.DefaultLot
			}
			if ltp <= 0 || lot <= 0 || ltp*float64(lot) > capital {
				continue
			}
			oc := &model.OptionContract{
				Symbol:     inst.TradingSymbol,
				Token:      inst.Token,
				Exchange:   inst.Exchange,
				Strike:     inst.Strike,
				Expiry:     inst.Expiry,
				OptionType: side,
				LTP:        ltp,
				LotSize:    lot,
			}
			s.log.Info("option selected",
				"symbol", oc.Symbol, "strike", oc.Strike, "ltp", oc.LTP,
				"lot_cost", fmt.Sprintf("%.2f", oc.LotCost()), "capital", capital, "spot", spot)
			return oc, nil
		}
	}

	s.log.Info("no affordable option", "side", side, "capital", capital, "spot", spot)
	return nil, nil
}

// RankByMoneyness orders contracts by distance of strike from spot. Equal
// distances prefer the in-the-money strike (lower for calls, higher for puts),
// then trading symbol.
func RankByMoneyness(contracts []model.Instrument, spot float64, side model.OptionType) {
	sort.SliceStable(contracts, func(i, j int) bool {
		a, b := &contracts[i], &contracts[j]
		da, db := math.Abs(a.Strike-spot), math.Abs(b.Strike-spot)
		if da != db {
			return da < db
		}
		if a.Strike != b.Strike {
			if side == model.Put {
				return a.Strike > b.Strike
			}
			return a.Strike < b.Strike
		}
		return a.TradingSymbol < b.TradingSymbol
	})
}
