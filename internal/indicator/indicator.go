// Package indicator computes volatility and trend indicators over candle
// batches.
//
// Every function is a pure function of its input slice: identical candles
// always produce identical output and no state survives between calls.
package indicator

import "errors"

var (
	// ErrEmptyInput is returned when no candles are supplied.
	ErrEmptyInput = errors.New("indicator: empty candle sequence")
	// ErrBadPeriod is returned for a non-positive lookback.
	ErrBadPeriod = errors.New("indicator: period must be > 0")
	// ErrBadMultiplier is returned for a non-positive band multiplier.
	ErrBadMultiplier = errors.New("indicator: multiplier must be > 0")
)

// Params configures the Supertrend computation.
type Params struct {
	Period     int     // ATR lookback
	Multiplier float64 // band width in ATRs
}

// Validate checks that both parameters are positive.
func (p Params) Validate() error {
	if p.Period <= 0 {
		return ErrBadPeriod
	}
	if p.Multiplier <= 0 {
		return ErrBadMultiplier
	}
	return nil
}
