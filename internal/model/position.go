package model

import "time"

// Direction is the market view a position expresses.
// LONG is held through calls, SHORT through puts.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// OptionType returns the option side used to express the direction.
func (d Direction) OptionType() OptionType {
	if d == Short {
		return Put
	}
	return Call
}

// Position is an open option position tracked by the trade state store.
type Position struct {
	Symbol      string    `json:"symbol"`
	Token       string    `json:"token"`
	Exchange    string    `json:"exchange"`
	EntryPrice  float64   `json:"entry_price"`  // underlying level at entry; stop-loss reference
	OptionPrice float64   `json:"option_price"` // premium paid per unit
	Quantity    int64     `json:"quantity"`
	Direction   Direction `json:"direction"`
	EnteredAt   time.Time `json:"timestamp"`
}

// StopLevel returns the underlying level that triggers a stop-loss exit.
func (p *Position) StopLevel(stopLoss float64) float64 {
	if p.Direction == Short {
		return p.EntryPrice * (1 + stopLoss)
	}
	return p.EntryPrice * (1 - stopLoss)
}

// StopHit reports whether the underlying price has reached the stop level.
func (p *Position) StopHit(price, stopLoss float64) bool {
	if p.Direction == Short {
		return price >= p.StopLevel(stopLoss)
	}
	return price <= p.StopLevel(stopLoss)
}

// BrokerPosition is a row of the broker's net position book.
// It is used for reconciliation only; the state store is authoritative.
type BrokerPosition struct {
	TradingSymbol string  `json:"trading_symbol"`
	Token         string  `json:"token"`
	Exchange      string  `json:"exchange"`
	ProductType   string  `json:"product_type"`
	NetQty        int64   `json:"net_qty"`
	AvgPrice      float64 `json:"avg_price"`
	LTP           float64 `json:"ltp"`
}
