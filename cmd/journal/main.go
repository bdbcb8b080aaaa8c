// Command journal prints the trade journal and the current trade state.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"optiontrader/config"
	"optiontrader/internal/execution"
	"optiontrader/internal/markethours"
	"optiontrader/internal/portfolio"
	"optiontrader/internal/store/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[journal] %v", err)
	}
	dbPath := flag.String("db", cfg.JournalPath, "Path to the trade journal database")
	limit := flag.Int("limit", 50, "Number of most recent trades to show")
	since := flag.String("since", "", "Show trades on or after this IST date (YYYY-MM-DD) instead of -limit")
	showState := flag.Bool("state", true, "Print the persisted trade state")
	flag.Parse()

	journal, err := execution.NewJournal(*dbPath)
	if err != nil {
		log.Fatalf("[journal] open %s: %v", *dbPath, err)
	}
	defer journal.Close()

	var trades []execution.TradeRecord
	if *since != "" {
		from, perr := time.ParseInLocation("2006-01-02", *since, markethours.IST)
		if perr != nil {
			log.Fatalf("[journal] -since: %v", perr)
		}
		trades, err = journal.TradesSince(from)
	} else {
		trades, err = journal.GetTrades(*limit)
	}
	if err != nil {
		log.Fatalf("[journal] query: %v", err)
	}
	renderTrades(os.Stdout, trades)
	renderPnL(os.Stdout, portfolio.FromTrades(trades).Summary(nil))

	if !*showState {
		return
	}
	st, err := loadState(cfg)
	if err != nil {
		log.Fatalf("[journal] state: %v", err)
	}
	fmt.Println()
	renderState(os.Stdout, st, cfg.StopLoss)
}

// loadState reads the persisted state without going through the store, so
// nothing is written.
func loadState(cfg *config.Config) (*state.TradeState, error) {
	var (
		repo state.Repository
		err  error
	)
	if cfg.StateBackend == config.BackendBadger {
		repo, err = state.NewBadgerRepository(cfg.StatePath)
	} else {
		repo, err = state.NewFileRepository(cfg.StatePath)
	}
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.Load()
}

func renderTrades(w io.Writer, trades []execution.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Trades")
	t.AppendHeader(table.Row{"#", "Filled (IST)", "Kind", "Side", "Symbol", "Dir", "Qty", "Price", "Spot", "Reason", "Cash"})

	var net float64
	for _, tr := range trades {
		n := tr.Notional()
		net += n
		t.AppendRow(table.Row{
			tr.ID, istTime(tr.FilledAt), tr.Kind, tr.Side, tr.Symbol, tr.Direction,
			tr.Qty, fmt.Sprintf("%.2f", tr.Price), fmt.Sprintf("%.2f", tr.Underlying), tr.Reason,
			fmt.Sprintf("%.2f", n),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", fmt.Sprintf("%d trades", len(trades)), fmt.Sprintf("%.2f", net)})
	t.Render()
}

func renderPnL(w io.Writer, s portfolio.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Realized P&L")
	t.AppendHeader(table.Row{"Symbol", "Round trips", "Open qty", "Realized"})
	for _, row := range s.Symbols {
		t.AppendRow(table.Row{row.Symbol, row.RoundTrips, row.OpenQty, row.Realized.StringFixed(2)})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("win rate %.0f%%", 100*s.WinRate()), "", s.Realized.StringFixed(2)})
	t.Render()
}

func renderState(w io.Writer, st *state.TradeState, stopLoss float64) {
	if st == nil {
		fmt.Fprintln(w, "no trade state persisted yet")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Open positions")
	t.AppendHeader(table.Row{"Symbol", "Dir", "Qty", "Premium", "Entry spot", "Stop", "Entered (IST)"})
	for _, sym := range st.Symbols() {
		p := st.OpenPositions[sym]
		t.AppendRow(table.Row{
			p.Symbol, p.Direction, p.Quantity, fmt.Sprintf("%.2f", p.OptionPrice),
			fmt.Sprintf("%.2f", p.EntryPrice), fmt.Sprintf("%.2f", p.StopLevel(stopLoss)),
			p.EnteredAt.In(markethours.IST).Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()

	last := "never"
	if !st.LastTradeAt.IsZero() {
		last = st.LastTradeAt.In(markethours.IST).Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(w, "paper balance: %s\nlast entry:    %s\n", st.PaperBalance.StringFixed(2), last)
}

func istTime(rfc3339 string) string {
	ts, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return ts.In(markethours.IST).Format("2006-01-02 15:04:05")
}
