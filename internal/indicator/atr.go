package indicator

import (
	"math"

	"optiontrader/internal/model"
)

// TrueRange returns the true range of every candle. The first candle has no
// previous close, so its true range is simply high - low.
func TrueRange(candles []model.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// ATR returns the simple rolling mean of the true range over the trailing
// period candles. Near the start the mean uses the candles available.
func ATR(candles []model.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, ErrEmptyInput
	}
	if period <= 0 {
		return nil, ErrBadPeriod
	}
	sma := NewSMA(period)
	tr := TrueRange(candles)
	out := make([]float64, len(tr))
	for i, v := range tr {
		sma.Update(v)
		out[i] = sma.Value()
	}
	return out, nil
}
