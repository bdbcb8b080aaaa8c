package angel

import (
	"context"
	"errors"
	"testing"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/markethours"
	"optiontrader/internal/model"
	"optiontrader/pkg/smartconnect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrips() []smartconnect.ScripRecord {
	opt := func(token, symbol, expiry, strike string) smartconnect.ScripRecord {
		return smartconnect.ScripRecord{
			Token: token, Symbol: symbol, Name: "NIFTY", Expiry: expiry, Strike: strike,
			LotSize: "75", InstrumentType: "OPTIDX", ExchSeg: "NFO", TickSize: "5.000000",
		}
	}
	return []smartconnect.ScripRecord{
		opt("43160", "NIFTY05MAR2622100CE", "05MAR2026", "2210000.000000"),
		opt("43152", "NIFTY05MAR2622000CE", "05MAR2026", "2200000.000000"),
		opt("43153", "NIFTY05MAR2622000PE", "05MAR2026", "2200000.000000"),
		opt("44001", "NIFTY12MAR2622000CE", "12MAR2026", "2200000.000000"),
		opt("49999", "NIFTY12MAR2622000XX", "12MAR2026", "2200000.000000"),
		{Token: "99926000", Symbol: "Nifty 50", Name: "NIFTY", InstrumentType: "AMXIDX", ExchSeg: "NSE"},
		{Token: "52001", Symbol: "BANKNIFTY05MAR2648000CE", Name: "BANKNIFTY", Expiry: "05MAR2026",
			Strike: "4800000.000000", LotSize: "30", InstrumentType: "OPTIDX", ExchSeg: "NFO"},
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, markethours.IST)
}

func TestInstruments_ExpiriesAndContracts(t *testing.T) {
	api := &fakeAPI{scrips: scrips()}
	b := New(api, Config{}, nil, nil)
	ctx := context.Background()

	exps, err := b.Expiries(ctx, "nifty")
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.True(t, exps[0].Equal(date(2026, 3, 5)))
	assert.True(t, exps[1].Equal(date(2026, 3, 12)))

	calls, err := b.Contracts(ctx, "NIFTY", exps[0], model.Call)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, 22000.0, calls[0].Strike)
	assert.Equal(t, "43152", calls[0].Token)
	assert.Equal(t, 75, calls[0].LotSize)
	assert.Equal(t, "NFO", calls[0].Exchange)
	assert.Equal(t, 22100.0, calls[1].Strike)

	puts, err := b.Contracts(ctx, "NIFTY", exps[0], model.Put)
	require.NoError(t, err)
	require.Len(t, puts, 1)
	assert.Equal(t, model.Put, puts[0].OptionType)

	assert.Equal(t, 1, api.scripCalls, "master is cached")
}

func TestInstruments_RefreshAfterTTL(t *testing.T) {
	api := &fakeAPI{scrips: scrips()}
	in := NewInstruments(api, time.Hour)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := in.Expiries(ctx, "NIFTY")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	// a failed refresh keeps serving the cached copy
	api.err = errors.New("timeout")
	exps, err := in.Expiries(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Len(t, exps, 2)
	assert.Equal(t, 2, api.scripCalls)
}

func TestInstruments_FirstLoadFailure(t *testing.T) {
	b := New(&fakeAPI{err: errors.New("dns")}, Config{}, nil, nil)
	_, err := b.Expiries(context.Background(), "NIFTY")
	require.Error(t, err)
	assert.True(t, broker.IsTransient(err))
}

func TestOptionLTP(t *testing.T) {
	api := &fakeAPI{
		scrips: scrips(),
		market: decode(t, `{"status":true,"data":{"fetched":[{"symbolToken":"43152","ltp":"118.35"}]}}`),
	}
	b := New(api, Config{}, nil, nil)

	ltp, err := b.OptionLTP(context.Background(), "NIFTY05MAR2622000CE")
	require.NoError(t, err)
	assert.Equal(t, 118.35, ltp)
	assert.Equal(t, map[string][]string{"NFO": {"43152"}}, api.marketReq)

	_, err = b.OptionLTP(context.Background(), "NIFTY05MAR2699999CE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}
