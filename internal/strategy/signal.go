// Package strategy turns candles and indicator rows into trade signals.
//
// A signal is a flip in raw candle direction between the last two bars. It is
// evaluated on its own and then used to confirm the Supertrend trend: an entry
// is only proposed when the flip and the trend agree.
package strategy

import (
	"fmt"

	"optiontrader/internal/indicator"
	"optiontrader/internal/model"
)

// Signal is a discrete flip in candle direction.
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

func (s Signal) String() string {
	if s == SignalNone {
		return "NONE"
	}
	return string(s)
}

// Direction maps BUY to LONG and SELL to SHORT. The bool is false for
// SignalNone.
func (s Signal) Direction() (model.Direction, bool) {
	switch s {
	case SignalBuy:
		return model.Long, true
	case SignalSell:
		return model.Short, true
	}
	return "", false
}

// Opposes reports whether the signal argues against holding a position in d.
func (s Signal) Opposes(d model.Direction) bool {
	return (d == model.Long && s == SignalSell) || (d == model.Short && s == SignalBuy)
}

// DetectFlip classifies the last two candles. A bearish or flat bar followed
// by a bullish bar is BUY; a bullish bar followed by a bearish or flat bar is
// SELL. Anything else, including fewer than two candles, is SignalNone.
func DetectFlip(candles []model.Candle) Signal {
	if len(candles) < 2 {
		return SignalNone
	}
	prev := candles[len(candles)-2]
	cur := candles[len(candles)-1]
	switch {
	case !prev.Bullish() && cur.Bullish():
		return SignalBuy
	case prev.Bullish() && !cur.Bullish():
		return SignalSell
	}
	return SignalNone
}

// Decision is the outcome of evaluating one candle batch.
type Decision struct {
	Flip      Signal
	Row       indicator.Row
	LastClose float64

	// Entry is the flip when the Supertrend trend confirms it, else SignalNone.
	Entry Signal
}

// Evaluator runs the indicator and the flip detector over a candle batch.
type Evaluator struct {
	params indicator.Params
}

// NewEvaluator creates an evaluator with the given Supertrend parameters.
func NewEvaluator(p indicator.Params) *Evaluator {
	return &Evaluator{params: p}
}

// Evaluate computes the indicator over candles and returns the decision for
// the latest bar. An empty batch yields a zero Decision and no error.
func (e *Evaluator) Evaluate(candles []model.Candle) (Decision, error) {
	if len(candles) == 0 {
		return Decision{}, nil
	}
	rows, err := indicator.Supertrend(candles, e.params)
	if err != nil {
		return Decision{}, fmt.Errorf("supertrend: %w", err)
	}
	last, _ := indicator.Last(rows)
	d := Decision{
		Flip:      DetectFlip(candles),
		Row:       last,
		LastClose: candles[len(candles)-1].Close,
	}
	switch {
	case d.Flip == SignalBuy && last.Defined && last.Uptrend:
		d.Entry = SignalBuy
	case d.Flip == SignalSell && last.Defined && !last.Uptrend:
		d.Entry = SignalSell
	}
	return d, nil
}
