package model

import "time"

// OptionType is the side of an option contract.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Instrument is a row of the broker's instrument master.
type Instrument struct {
	Token          string     `json:"token"`
	Exchange       string     `json:"exchange"`
	TradingSymbol  string     `json:"trading_symbol"`
	Name           string     `json:"name"`
	InstrumentType string     `json:"instrument_type"` // OPTIDX, OPTSTK, FUTIDX, AMXIDX ...
	OptionType     OptionType `json:"option_type,omitempty"`
	Strike         float64    `json:"strike"` // rupees
	Expiry         time.Time  `json:"expiry"` // zero for non-derivatives
	LotSize        int        `json:"lot_size"`
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

// OptionContract is a priced snapshot of a single option taken at selection
// time. It is never reused across cycles.
type OptionContract struct {
	Symbol     string     `json:"symbol"`
	Token      string     `json:"token"`
	Exchange   string     `json:"exchange"`
	Strike     float64    `json:"strike_price"`
	Expiry     time.Time  `json:"expiry"`
	OptionType OptionType `json:"option_type"`
	LTP        float64    `json:"ltp"`
	LotSize    int        `json:"lot_size"`
}

// LotCost is the premium for one lot at the snapshot LTP.
func (o *OptionContract) LotCost() float64 {
	return o.LTP * float64(o.LotSize)
}
