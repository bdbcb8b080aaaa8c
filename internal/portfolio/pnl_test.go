package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiontrader/internal/execution"
)

func fill(id int64, side, sym string, qty int64, price float64, reason string) execution.TradeRecord {
	return execution.TradeRecord{ID: id, Side: side, Symbol: sym, Qty: qty, Price: price, Reason: reason}
}

func TestRoundTrips(t *testing.T) {
	// out of order; replay is by ID
	p := FromTrades([]execution.TradeRecord{
		fill(2, "SELL", "A-CE", 75, 150, "signal_flip"),
		fill(1, "BUY", "A-CE", 75, 120, ""),
		fill(3, "BUY", "B-PE", 150, 80, ""),
		fill(4, "SELL", "B-PE", 150, 70.5, "stop_loss"),
	})

	assert.Equal(t, "825", p.Realized().String()) // 2250 - 1425
	s := p.Summary(nil)
	assert.Equal(t, 4, s.Fills)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate(), 1e-9)
	assert.Equal(t, map[string]int{"signal_flip": 1, "stop_loss": 1}, s.ExitsByReason)
	assert.Equal(t, 0, s.OpenPositions)
	require.Len(t, s.Symbols, 2)
	assert.Equal(t, "A-CE", s.Symbols[0].Symbol)
	assert.Equal(t, 1, s.Symbols[0].RoundTrips)
}

func TestUnrealizedUsesMarks(t *testing.T) {
	p := NewPnLTracker()
	assert.True(t, p.RecordTrade(fill(1, "BUY", "A-CE", 75, 100, "")).IsZero())
	assert.True(t, p.RecordTrade(fill(2, "BUY", "A-CE", 75, 110, "")).IsZero())

	s := p.Summary(map[string]float64{"A-CE": 120})
	assert.Equal(t, 1, s.OpenPositions)
	assert.Equal(t, "105", s.Symbols[0].AvgPrice.String())
	assert.Equal(t, "2250", s.Unrealized.String())
	assert.Equal(t, "2250", s.Total.String())

	assert.True(t, p.Summary(nil).Unrealized.IsZero())
}

func TestOversellIsClamped(t *testing.T) {
	p := NewPnLTracker()
	p.RecordTrade(fill(1, "BUY", "A-CE", 75, 100, ""))
	got := p.RecordTrade(fill(2, "SELL", "A-CE", 150, 110, "signal_flip"))
	assert.Equal(t, "750", got.String())
	assert.Equal(t, 0, p.Summary(nil).OpenPositions)
}

func TestEmpty(t *testing.T) {
	s := FromTrades(nil).Summary(nil)
	assert.True(t, s.Total.IsZero())
	assert.Zero(t, s.WinRate())
	assert.Empty(t, s.Symbols)
}
