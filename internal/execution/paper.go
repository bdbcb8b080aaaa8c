package execution

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"optiontrader/internal/logger"
	"optiontrader/internal/model"
)

// Ledger holds the paper balance.
type Ledger interface {
	PaperBalance() decimal.Decimal
}

// PaperExecutor simulates fills at the request's reference price and prices
// the signed notional. It does not touch the ledger: the caller commits
// BalanceDelta together with the position change. Nothing reaches the broker.
type PaperExecutor struct {
	ledger Ledger
	log    *slog.Logger

	// slippageBps moves the fill price against the order (buy higher, sell lower).
	slippageBps int64
}

// NewPaperExecutor creates a paper executor over ledger.
// slippageBps controls simulated slippage in basis points.
func NewPaperExecutor(ledger Ledger, slippageBps int64) *PaperExecutor {
	return &PaperExecutor{
		ledger:      ledger,
		slippageBps: slippageBps,
		log:         slog.With("component", "executor", "mode", "paper"),
	}
}

// Balance returns the paper balance. It is the balance source in paper mode.
func (p *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	return p.ledger.PaperBalance().InexactFloat64(), nil
}

func (p *PaperExecutor) Place(ctx context.Context, req model.OrderRequest) (OrderResult, error) {
	if req.Quantity <= 0 || req.Price <= 0 {
		return OrderResult{}, errors.New("paper order needs positive price and quantity")
	}

	price := decimal.NewFromFloat(req.Price)
	if p.slippageBps > 0 {
		slip := price.Mul(decimal.NewFromInt(p.slippageBps)).Div(decimal.NewFromInt(10000))
		if req.IsExit {
			price = price.Sub(slip)
		} else {
			price = price.Add(slip)
		}
	}

	delta := price.Mul(decimal.NewFromInt(req.Quantity))
	if !req.IsExit {
		delta = delta.Neg()
	}
	after := p.ledger.PaperBalance().Add(delta)

	res := &PaperResult{
		OrderID:      "PAPER-" + uuid.NewString(),
		Price:        price.InexactFloat64(),
		BalanceDelta: delta,
		BalanceAfter: after,
	}
	p.log.Info("paper fill",
		append(logger.LogWithTrace(ctx),
			"order_id", res.OrderID, "side", req.Side(), "symbol", req.Symbol, "qty", req.Quantity,
			"price", price.String(), "delta", delta.String(), "balance", after.String())...)
	return OrderResult{Kind: KindPaper, Paper: res}, nil
}
