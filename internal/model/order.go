package model

// Side is the transaction side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRequest describes a market order for an option contract.
// Entries buy the contract, exits sell the full held quantity.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Token    string  `json:"token"`
	Exchange string  `json:"exchange"`
	Price    float64 `json:"price"` // reference price for paper fills and journaling
	Quantity int64   `json:"quantity"`
	IsExit   bool    `json:"is_exit"`
}

// Side returns BUY for entries and SELL for exits.
func (r *OrderRequest) Side() Side {
	if r.IsExit {
		return Sell
	}
	return Buy
}

// Notional returns price × quantity.
func (r *OrderRequest) Notional() float64 {
	return r.Price * float64(r.Quantity)
}
