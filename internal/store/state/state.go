// Package state holds the durable trade state: open positions, the time of
// the last entry and the paper-trading balance.
package state

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"optiontrader/internal/model"
)

var (
	// ErrCorruptState is returned when persisted state exists but can't be decoded.
	ErrCorruptState = errors.New("state: persisted trade state is corrupt")
	// ErrDuplicatePosition is returned when opening a symbol that is already open.
	ErrDuplicatePosition = errors.New("state: position already open for symbol")
	// ErrNoPosition is returned when closing a symbol that isn't open.
	ErrNoPosition = errors.New("state: no open position for symbol")
)

// TradeState is the persisted document. A symbol appears at most once in
// OpenPositions; absence means flat.
type TradeState struct {
	OpenPositions map[string]model.Position `json:"open_positions"`
	LastTradeAt   time.Time                 `json:"last_trade_timestamp"`
	PaperBalance  decimal.Decimal           `json:"paper_balance"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// NewTradeState returns an empty state with the given paper balance.
func NewTradeState(paperBalance decimal.Decimal) *TradeState {
	return &TradeState{
		OpenPositions: make(map[string]model.Position),
		PaperBalance:  paperBalance,
	}
}

// Clone returns a deep copy.
func (s *TradeState) Clone() *TradeState {
	c := *s
	c.OpenPositions = make(map[string]model.Position, len(s.OpenPositions))
	for k, v := range s.OpenPositions {
		c.OpenPositions[k] = v
	}
	return &c
}

// Symbols returns the open symbols in sorted order.
func (s *TradeState) Symbols() []string {
	out := make([]string, 0, len(s.OpenPositions))
	for k := range s.OpenPositions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Repository persists a TradeState. Every Save replaces the stored document
// atomically.
type Repository interface {
	Save(st *TradeState) error
	// Load returns (nil, nil) when nothing has been stored yet and an error
	// wrapping ErrCorruptState when the stored document can't be decoded.
	Load() (*TradeState, error)
	Close() error
}
