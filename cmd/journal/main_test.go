package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"optiontrader/internal/execution"
	"optiontrader/internal/model"
	"optiontrader/internal/portfolio"
	"optiontrader/internal/store/state"
)

func TestRenderTrades(t *testing.T) {
	var buf bytes.Buffer
	renderTrades(&buf, []execution.TradeRecord{
		{ID: 1, Kind: "entry", Side: "BUY", Symbol: "NIFTY05MAR2622000CE", Direction: "LONG",
			Qty: 75, Price: 120, Underlying: 22000, FilledAt: "2026-03-05T04:00:00Z"},
		{ID: 2, Kind: "exit", Side: "SELL", Symbol: "NIFTY05MAR2622000CE", Direction: "LONG",
			Qty: 75, Price: 150, Underlying: 22100, Reason: "signal_flip", FilledAt: "2026-03-05T05:00:00Z"},
	})
	out := buf.String()
	assert.Contains(t, out, "NIFTY05MAR2622000CE")
	assert.Contains(t, out, "2026-03-05 09:30:00")
	assert.Contains(t, out, "signal_flip")
	assert.Contains(t, out, "2 TRADES") // footers are upper-cased
	assert.Contains(t, out, "2250.00")
}

func TestRenderPnL(t *testing.T) {
	s := portfolio.FromTrades([]execution.TradeRecord{
		{ID: 1, Side: "BUY", Symbol: "NIFTY05MAR2622000CE", Qty: 75, Price: 120},
		{ID: 2, Side: "SELL", Symbol: "NIFTY05MAR2622000CE", Qty: 75, Price: 110, Reason: "stop_loss"},
	}).Summary(nil)

	var buf bytes.Buffer
	renderPnL(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "-750.00")
	assert.Contains(t, out, "WIN RATE 0%") // footers are upper-cased
}

func TestRenderState(t *testing.T) {
	st := state.NewTradeState(decimal.RequireFromString("91000"))
	st.OpenPositions["NIFTY05MAR2622000PE"] = model.Position{
		Symbol: "NIFTY05MAR2622000PE", Direction: model.Short, Quantity: 75,
		EntryPrice: 22000, OptionPrice: 120, EnteredAt: time.Date(2026, 3, 5, 4, 0, 0, 0, time.UTC),
	}
	st.LastTradeAt = time.Date(2026, 3, 5, 4, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	renderState(&buf, st, 0.01)
	out := buf.String()
	assert.Contains(t, out, "22220.00")
	assert.Contains(t, out, "paper balance: 91000.00")
	assert.Contains(t, out, "last entry:    2026-03-05 09:30:00")
}

func TestRenderState_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderState(&buf, nil, 0.01)
	assert.Equal(t, "no trade state persisted yet\n", buf.String())
}
