// Package portfolio derives realized and unrealized P&L from journal fills.
package portfolio

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"optiontrader/internal/execution"
	"optiontrader/internal/model"
)

type costEntry struct {
	Qty      int64
	AvgPrice decimal.Decimal
}

// SymbolPnL is the per-contract breakdown of a summary.
type SymbolPnL struct {
	Symbol     string          `json:"symbol"`
	OpenQty    int64           `json:"open_qty"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Realized   decimal.Decimal `json:"realized"`
	RoundTrips int             `json:"round_trips"`
}

// PnLTracker replays fills in order and keeps a weighted-average cost basis
// per symbol. Sells realize against that basis.
type PnLTracker struct {
	mu        sync.RWMutex
	costBasis map[string]costEntry
	realized  map[string]decimal.Decimal
	trips     map[string]int
	wins      int
	losses    int
	byReason  map[string]int
	fills     int
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		costBasis: make(map[string]costEntry),
		realized:  make(map[string]decimal.Decimal),
		trips:     make(map[string]int),
		byReason:  make(map[string]int),
	}
}

// FromTrades builds a tracker from journal rows. Rows may be in any order;
// they are replayed by journal ID.
func FromTrades(trades []execution.TradeRecord) *PnLTracker {
	sorted := make([]execution.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	p := NewPnLTracker()
	for _, t := range sorted {
		p.RecordTrade(t)
	}
	return p
}

// RecordTrade applies a fill and returns the P&L it realized. Buys realize nothing.
func (p *PnLTracker) RecordTrade(t execution.TradeRecord) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fills++
	entry := p.costBasis[t.Symbol]
	price := decimal.NewFromFloat(t.Price)

	if t.Side == string(model.Buy) {
		total := entry.AvgPrice.Mul(decimal.NewFromInt(entry.Qty)).Add(price.Mul(decimal.NewFromInt(t.Qty)))
		entry.Qty += t.Qty
		if entry.Qty > 0 {
			entry.AvgPrice = total.Div(decimal.NewFromInt(entry.Qty))
		}
		p.costBasis[t.Symbol] = entry
		return decimal.Zero
	}

	sellQty := t.Qty
	if sellQty > entry.Qty {
		sellQty = entry.Qty
	}
	pnl := price.Sub(entry.AvgPrice).Mul(decimal.NewFromInt(sellQty))
	entry.Qty -= sellQty
	if entry.Qty <= 0 {
		entry = costEntry{}
		p.trips[t.Symbol]++
	}
	p.costBasis[t.Symbol] = entry
	p.realized[t.Symbol] = p.realized[t.Symbol].Add(pnl)

	switch {
	case pnl.IsPositive():
		p.wins++
	case pnl.IsNegative():
		p.losses++
	}
	if t.Reason != "" {
		p.byReason[t.Reason]++
	}
	return pnl
}

// Realized returns the total realized P&L.
func (p *PnLTracker) Realized() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, v := range p.realized {
		total = total.Add(v)
	}
	return total
}

// Summary is a P&L snapshot.
type Summary struct {
	Realized      decimal.Decimal `json:"realized"`
	Unrealized    decimal.Decimal `json:"unrealized"`
	Total         decimal.Decimal `json:"total"`
	Fills         int             `json:"fills"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	ExitsByReason map[string]int  `json:"exits_by_reason"`
	OpenPositions int             `json:"open_positions"`
	Symbols       []SymbolPnL     `json:"symbols"`
}

// WinRate returns wins over closing fills with a non-zero result, or 0.
func (s Summary) WinRate() float64 {
	n := s.Wins + s.Losses
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n)
}

// Summary marks open quantities to marks (symbol -> LTP). Symbols without a
// mark contribute no unrealized P&L.
func (p *PnLTracker) Summary(marks map[string]float64) Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Summary{
		Realized:      decimal.Zero,
		Unrealized:    decimal.Zero,
		Fills:         p.fills,
		Wins:          p.wins,
		Losses:        p.losses,
		ExitsByReason: make(map[string]int, len(p.byReason)),
	}
	for k, v := range p.byReason {
		s.ExitsByReason[k] = v
	}

	seen := make(map[string]bool)
	for sym := range p.costBasis {
		seen[sym] = true
	}
	for sym := range p.realized {
		seen[sym] = true
	}
	for sym := range seen {
		entry := p.costBasis[sym]
		row := SymbolPnL{
			Symbol:     sym,
			OpenQty:    entry.Qty,
			AvgPrice:   entry.AvgPrice,
			Realized:   p.realized[sym],
			RoundTrips: p.trips[sym],
		}
		s.Realized = s.Realized.Add(row.Realized)
		if entry.Qty > 0 {
			s.OpenPositions++
			if ltp, ok := marks[sym]; ok {
				s.Unrealized = s.Unrealized.Add(decimal.NewFromFloat(ltp).Sub(entry.AvgPrice).Mul(decimal.NewFromInt(entry.Qty)))
			}
		}
		s.Symbols = append(s.Symbols, row)
	}
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Symbol < s.Symbols[j].Symbol })
	s.Total = s.Realized.Add(s.Unrealized)
	return s
}
