package execution

import (
	"context"
	"log/slog"

	"optiontrader/internal/broker"
	"optiontrader/internal/logger"
	"optiontrader/internal/model"
)

// LiveExecutor sends orders to the broker.
type LiveExecutor struct {
	broker broker.OrderPlacer
	log    *slog.Logger
}

// NewLiveExecutor creates an executor backed by a broker order API.
func NewLiveExecutor(b broker.OrderPlacer) *LiveExecutor {
	return &LiveExecutor{broker: b, log: slog.With("component", "executor", "mode", "live")}
}

func (e *LiveExecutor) Place(ctx context.Context, req model.OrderRequest) (OrderResult, error) {
	orderID, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		return OrderResult{}, broker.Transient("place order", err)
	}
	e.log.Info("order placed",
		append(logger.LogWithTrace(ctx),
			"order_id", orderID, "side", req.Side(), "symbol", req.Symbol, "qty", req.Quantity, "ref_price", req.Price)...)
	return OrderResult{Kind: KindLive, Live: &LiveResult{Status: StatusSuccess, OrderID: orderID}}, nil
}
