package indicator

import (
	"math"

	"optiontrader/internal/model"
)

// Row is the indicator output for one candle. It is never serialised.
type Row struct {
	ATR   float64
	Upper float64
	Lower float64

	// Supertrend is NaN and Defined is false for the first row.
	Supertrend float64
	Defined    bool
	Uptrend    bool
}

// trendState is the value carried between steps of the Supertrend fold.
type trendState struct {
	uptrend   bool
	prevUpper float64
	prevLower float64
}

// step advances the trend using the previous row's bands.
func (s trendState) step(close, upper, lower float64) trendState {
	switch {
	case close > s.prevUpper:
		s.uptrend = true
	case close < s.prevLower:
		s.uptrend = false
	}
	s.prevUpper = upper
	s.prevLower = lower
	return s
}

// Supertrend computes ATR bands and the Supertrend line for every candle.
// The trend starts as an uptrend; row 0 carries bands but no Supertrend value.
func Supertrend(candles []model.Candle, p Params) ([]Row, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	atr, err := ATR(candles, p.Period)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(candles))
	var st trendState
	for i := range candles {
		c := &candles[i]
		hl2 := c.HL2()
		upper := hl2 + p.Multiplier*atr[i]
		lower := hl2 - p.Multiplier*atr[i]

		if i == 0 {
			st = trendState{uptrend: true, prevUpper: upper, prevLower: lower}
			rows[i] = Row{ATR: atr[i], Upper: upper, Lower: lower, Supertrend: math.NaN(), Uptrend: true}
			continue
		}

		st = st.step(c.Close, upper, lower)
		line := upper
		if st.uptrend {
			line = lower
		}
		rows[i] = Row{
			ATR:        atr[i],
			Upper:      upper,
			Lower:      lower,
			Supertrend: line,
			Defined:    true,
			Uptrend:    st.uptrend,
		}
	}
	return rows, nil
}

// Last returns the final row, or false when rows is empty.
func Last(rows []Row) (Row, bool) {
	if len(rows) == 0 {
		return Row{}, false
	}
	return rows[len(rows)-1], true
}
