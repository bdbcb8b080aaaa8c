package main

import (
	"context"
	"log/slog"

	"optiontrader/internal/broker"
	"optiontrader/internal/model"
)

// mismatch is a symbol whose quantity differs between the store and the
// broker's net position book.
type mismatch struct {
	Symbol    string
	StoreQty  int64
	BrokerQty int64
}

// reconcile compares the stored open positions with the broker book and logs
// every difference. The store stays authoritative; nothing is changed.
func reconcile(ctx context.Context, stored []model.Position, book broker.PositionBook) ([]mismatch, error) {
	lg := slog.With("component", "reconcile")
	rows, err := book.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	brokerQty := make(map[string]int64, len(rows))
	for _, r := range rows {
		brokerQty[r.TradingSymbol] += r.NetQty
	}

	var out []mismatch
	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		seen[p.Symbol] = true
		if bq := brokerQty[p.Symbol]; bq != p.Quantity {
			out = append(out, mismatch{Symbol: p.Symbol, StoreQty: p.Quantity, BrokerQty: bq})
		}
	}
	for sym, bq := range brokerQty {
		if !seen[sym] && bq != 0 {
			out = append(out, mismatch{Symbol: sym, BrokerQty: bq})
		}
	}

	for _, m := range out {
		lg.Warn("position mismatch", "symbol", m.Symbol, "store_qty", m.StoreQty, "broker_qty", m.BrokerQty)
	}
	lg.Info("reconciliation done", "stored", len(stored), "broker", len(rows), "mismatches", len(out))
	return out, nil
}
