package notification

import (
	"fmt"
	"strconv"

	"optiontrader/internal/model"
)

// EntryAlert announces a newly opened position.
func EntryAlert(p model.Position, mode string) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s entry %s", mode, p.Symbol),
		Message: fmt.Sprintf("%s %d @ %.2f (underlying %.2f)",
			p.Direction, p.Quantity, p.OptionPrice, p.EntryPrice),
		Fields: []Field{
			{"symbol", p.Symbol},
			{"direction", string(p.Direction)},
			{"qty", strconv.FormatInt(p.Quantity, 10)},
			{"premium", money(p.OptionPrice)},
			{"underlying", money(p.EntryPrice)},
		},
	}
}

// ExitAlert announces a closed position and why it was closed.
func ExitAlert(p model.Position, mode, reason string, exitPrice, underlying float64) Alert {
	pnl := (exitPrice - p.OptionPrice) * float64(p.Quantity)
	lvl := AlertInfo
	if pnl < 0 {
		lvl = AlertWarning
	}
	return Alert{
		Level: lvl,
		Title: fmt.Sprintf("%s exit %s (%s)", mode, p.Symbol, reason),
		Message: fmt.Sprintf("sold %d @ %.2f, bought @ %.2f, P&L %.2f; underlying %.2f vs entry %.2f",
			p.Quantity, exitPrice, p.OptionPrice, pnl, underlying, p.EntryPrice),
		Fields: []Field{
			{"symbol", p.Symbol},
			{"reason", reason},
			{"qty", strconv.FormatInt(p.Quantity, 10)},
			{"exit_price", money(exitPrice)},
			{"pnl", money(pnl)},
		},
	}
}

// FailureAlert reports an aborted cycle or a failed order.
func FailureAlert(title string, err error) Alert {
	return Alert{Level: AlertCritical, Title: title, Message: err.Error()}
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
