// Package api serves a read-only JSON view of the trader: open positions,
// recent fills and P&L.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"optiontrader/internal/execution"
	"optiontrader/internal/markethours"
	"optiontrader/internal/model"
	"optiontrader/internal/options"
	"optiontrader/internal/portfolio"
)

// PositionSource is the trade state store.
type PositionSource interface {
	Positions() []model.Position
	LastTradeAt() time.Time
	PaperBalance() decimal.Decimal
}

// TradeSource is the trade journal.
type TradeSource interface {
	GetTrades(limit int) ([]execution.TradeRecord, error)
	TradesSince(since time.Time) ([]execution.TradeRecord, error)
}

// Deps wires the router. Quotes is optional; without it open positions are
// not marked to market.
type Deps struct {
	Positions PositionSource
	Trades    TradeSource
	Quotes    options.Quoter
	Mode      string
	StopLoss  float64
	Now       func() time.Time
}

const maxLimit = 500

// NewRouter sets up the /api/v1 routes.
func NewRouter(d Deps) *http.ServeMux {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/positions", h.positions)
	mux.HandleFunc("/api/v1/trades", h.trades)
	mux.HandleFunc("/api/v1/pnl", h.pnl)
	return mux
}

type handlers struct {
	Deps
}

type positionView struct {
	model.Position
	StopLevel float64  `json:"stop_level"`
	LTP       *float64 `json:"ltp,omitempty"`
}

func (h *handlers) positions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	open := h.Positions.Positions()
	marks := h.marks(r.Context(), open)

	views := make([]positionView, 0, len(open))
	for _, p := range open {
		v := positionView{Position: p, StopLevel: p.StopLevel(h.StopLoss)}
		if ltp, ok := marks[p.Symbol]; ok {
			v.LTP = &ltp
		}
		views = append(views, v)
	}

	resp := map[string]any{
		"mode":      h.Mode,
		"positions": views,
	}
	if last := h.Positions.LastTradeAt(); !last.IsZero() {
		resp["last_trade_at"] = last
	}
	if h.Mode == "paper" {
		resp["paper_balance"] = h.Positions.PaperBalance()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) trades(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	trades, err := h.Trades.GetTrades(limit)
	if err != nil {
		slog.Error("trades query failed", "component", "api", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if trades == nil {
		trades = []execution.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// pnl summarizes fills since the start of the given IST day (default today).
func (h *handlers) pnl(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	now := h.Now().In(markethours.IST)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, markethours.IST)
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseInLocation("2006-01-02", s, markethours.IST)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		from = d
	}
	trades, err := h.Trades.TradesSince(from)
	if err != nil {
		slog.Error("pnl query failed", "component", "api", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	summary := portfolio.FromTrades(trades).Summary(h.marks(r.Context(), h.Positions.Positions()))
	writeJSON(w, http.StatusOK, map[string]any{
		"since":    from.Format("2006-01-02"),
		"summary":  summary,
		"win_rate": summary.WinRate(),
	})
}

// marks fetches option LTPs for the open positions, grouped by exchange.
// Quote failures are logged and leave the positions unmarked.
func (h *handlers) marks(ctx context.Context, open []model.Position) map[string]float64 {
	out := make(map[string]float64)
	if h.Quotes == nil || len(open) == 0 {
		return out
	}
	byExchange := make(map[string][]model.Position)
	for _, p := range open {
		byExchange[p.Exchange] = append(byExchange[p.Exchange], p)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for exch, ps := range byExchange {
		tokens := make([]string, len(ps))
		for i, p := range ps {
			tokens[i] = p.Token
		}
		quotes, err := h.Quotes.Quotes(ctx, exch, tokens)
		if err != nil {
			slog.Warn("mark to market failed", "component", "api", "exchange", exch, "error", err)
			continue
		}
		for _, p := range ps {
			if ltp, ok := quotes[p.Token]; ok {
				out[p.Symbol] = ltp
			}
		}
	}
	return out
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
