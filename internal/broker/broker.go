// Package broker defines the collaborators the trading engine consumes and
// the error type used to mark their failures as retriable.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optiontrader/internal/model"
)

// Account reports available trading capital.
type Account interface {
	Balance(ctx context.Context) (float64, error)
}

// MarketData serves historical candles and last traded prices.
type MarketData interface {
	// HistoricalCandles returns candles oldest first. An empty slice means no
	// data for this cycle and is not an error.
	HistoricalCandles(ctx context.Context, symbolToken, exchange, interval string) ([]model.Candle, error)
	// Quotes returns the LTP of each token on one exchange. Tokens without a
	// quote are absent from the map.
	Quotes(ctx context.Context, exchange string, tokens []string) (map[string]float64, error)
}

// PositionBook is the broker's own view of open positions.
type PositionBook interface {
	OpenPositions(ctx context.Context) ([]model.BrokerPosition, error)
}

// OrderPlacer submits live market orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (orderID string, err error)
}

// OptionChain lists option contracts from the instrument master.
type OptionChain interface {
	Expiries(ctx context.Context, underlying string) ([]time.Time, error)
	Contracts(ctx context.Context, underlying string, expiry time.Time, side model.OptionType) ([]model.Instrument, error)
}

// TransientError marks a collaborator failure that aborts the current cycle
// but may succeed on the next one.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v (transient)", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err or anything it wraps is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SpotSource reports the current level of the traded underlying.
type SpotSource interface {
	SpotPrice(ctx context.Context) (float64, error)
}
