// Package execution places orders, either through the broker or against the
// paper ledger, and journals every fill.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"optiontrader/internal/model"
)

// Kind tags which variant an OrderResult carries.
type Kind string

const (
	KindLive  Kind = "LIVE"
	KindPaper Kind = "PAPER"
)

// LiveResult is the broker's acknowledgement of a live order.
type LiveResult struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// PaperResult is a simulated fill booked against the paper balance.
type PaperResult struct {
	OrderID      string          `json:"order_id"`
	Price        float64         `json:"price"`
	BalanceDelta decimal.Decimal `json:"balance_delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"` // once BalanceDelta is committed
}

// OrderResult is either a LiveResult or a PaperResult; exactly one is set.
type OrderResult struct {
	Kind  Kind         `json:"kind"`
	Live  *LiveResult  `json:"live,omitempty"`
	Paper *PaperResult `json:"paper,omitempty"`
}

// StatusSuccess is the status of an accepted live order.
const StatusSuccess = "success"

// OK reports whether the order was accepted.
func (r OrderResult) OK() bool {
	switch r.Kind {
	case KindLive:
		return r.Live != nil && r.Live.Status == StatusSuccess && r.Live.OrderID != ""
	case KindPaper:
		return r.Paper != nil
	}
	return false
}

// OrderID returns the broker or synthetic order ID.
func (r OrderResult) OrderID() string {
	switch {
	case r.Live != nil:
		return r.Live.OrderID
	case r.Paper != nil:
		return r.Paper.OrderID
	}
	return ""
}

// PaperDelta returns the balance change a paper fill is waiting to commit,
// zero for live orders.
func (r OrderResult) PaperDelta() decimal.Decimal {
	if r.Paper == nil {
		return decimal.Zero
	}
	return r.Paper.BalanceDelta
}

// Placer places a single market order.
type Placer interface {
	Place(ctx context.Context, req model.OrderRequest) (OrderResult, error)
}
