package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar returned by the historical-data API.
// Prices are in rupees as reported by the broker.
type Candle struct {
	TS     time.Time `json:"ts"` // bar open time
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Bullish reports whether the bar closed above its open.
// A flat bar is not bullish.
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// HL2 returns the midpoint of the bar's range.
func (c *Candle) HL2() float64 {
	return (c.High + c.Low) / 2
}

// JSON returns the JSON-encoded candle (ignoring errors for logging use).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
