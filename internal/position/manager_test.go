package position

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/execution"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/internal/store/state"
	"optiontrader/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	ltp map[string]float64
	err error
}

func (q *fakeQuoter) Quotes(_ context.Context, _ string, tokens []string) (map[string]float64, error) {
	if q.err != nil {
		return nil, q.err
	}
	out := map[string]float64{}
	for _, t := range tokens {
		if v, ok := q.ltp[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

type countingPlacer struct {
	inner execution.Placer
	reqs  []model.OrderRequest
	fail  error
}

func (p *countingPlacer) Place(ctx context.Context, req model.OrderRequest) (execution.OrderResult, error) {
	p.reqs = append(p.reqs, req)
	if p.fail != nil {
		return execution.OrderResult{}, p.fail
	}
	return p.inner.Place(ctx, req)
}

type journalSpy struct{ fills []execution.Fill }

func (j *journalSpy) RecordFill(f execution.Fill) error {
	j.fills = append(j.fills, f)
	return nil
}

// saveGate fails every Save while closed.
type saveGate struct {
	state.Repository
	closed bool
}

func (g *saveGate) Save(st *state.TradeState) error {
	if g.closed {
		return errors.New("disk full")
	}
	return g.Repository.Save(st)
}

func openStore(t *testing.T) *state.Store {
	t.Helper()
	repo, err := state.NewFileRepository(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	s, err := state.Open(repo, state.Options{PaperBalance: decimal.NewFromInt(100000)})
	require.NoError(t, err)
	return s
}

func longPosition() model.Position {
	return model.Position{
		Symbol:      "NIFTY05MAR2622000CE",
		Token:       "43152",
		Exchange:    "NFO",
		EntryPrice:  22000,
		OptionPrice: 120,
		Quantity:    75,
		Direction:   model.Long,
		EnteredAt:   time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
	}
}

func newTestManager(t *testing.T) (*Manager, *state.Store, *countingPlacer, *journalSpy) {
	t.Helper()
	st := openStore(t)
	require.NoError(t, st.OpenPosition(longPosition(), time.Now(), decimal.Zero))

	placer := &countingPlacer{inner: execution.NewPaperExecutor(st, 0)}
	quotes := &fakeQuoter{ltp: map[string]float64{"43152": 95.5}}
	m := NewManager(Config{StopLoss: 0.01, Mode: "paper"}, st, placer, quotes)
	j := &journalSpy{}
	m.Journal = j
	return m, st, placer, j
}

func TestExitReason(t *testing.T) {
	long := longPosition()
	short := longPosition()
	short.Direction = model.Short

	assert.Equal(t, ReasonStopLoss, ExitReason(long, 21780, 0.01, strategy.SignalNone))
	assert.Equal(t, "", ExitReason(long, 21781, 0.01, strategy.SignalNone))
	assert.Equal(t, ReasonSignalFlip, ExitReason(long, 22100, 0.01, strategy.SignalSell))
	assert.Equal(t, "", ExitReason(long, 22100, 0.01, strategy.SignalBuy))

	assert.Equal(t, ReasonStopLoss, ExitReason(short, 22220, 0.01, strategy.SignalNone))
	assert.Equal(t, "", ExitReason(short, 22219, 0.01, strategy.SignalSell))
	assert.Equal(t, ReasonSignalFlip, ExitReason(short, 21900, 0.01, strategy.SignalBuy))
}

func TestRun_StopLossExitIsIdempotent(t *testing.T) {
	m, st, placer, j := newTestManager(t)
	ctx := context.Background()

	exits, err := m.Run(ctx, 21700, strategy.SignalNone)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ReasonStopLoss, exits[0].Reason)
	assert.Equal(t, 95.5, exits[0].ExitPrice)

	require.Len(t, placer.reqs, 1)
	req := placer.reqs[0]
	assert.True(t, req.IsExit)
	assert.Equal(t, model.Sell, req.Side())
	assert.Equal(t, int64(75), req.Quantity)
	assert.Equal(t, 0, st.Count())

	// proceeds booked: 100000 + 95.5*75
	assert.Equal(t, "107162.5", st.PaperBalance().String())

	require.Len(t, j.fills, 1)
	assert.Equal(t, ReasonStopLoss, j.fills[0].Reason)
	assert.Equal(t, 21700.0, j.fills[0].Underlying)

	exits, err = m.Run(ctx, 21700, strategy.SignalNone)
	require.NoError(t, err)
	assert.Empty(t, exits)
	assert.Len(t, placer.reqs, 1, "no second exit order")
}

func TestRun_HoldsAboveStop(t *testing.T) {
	m, st, placer, _ := newTestManager(t)

	exits, err := m.Run(context.Background(), 21900, strategy.SignalNone)
	require.NoError(t, err)
	assert.Empty(t, exits)
	assert.Empty(t, placer.reqs)
	assert.Equal(t, 1, st.Count())
}

func TestRun_FlipExit(t *testing.T) {
	m, st, _, _ := newTestManager(t)

	exits, err := m.Run(context.Background(), 22150, strategy.SignalSell)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ReasonSignalFlip, exits[0].Reason)
	assert.Equal(t, 0, st.Count())
}

func TestRun_FailedOrderKeepsPosition(t *testing.T) {
	m, st, placer, j := newTestManager(t)
	reg := prometheus.NewRegistry()
	m.Metrics = metrics.NewMetrics(reg)
	placer.fail = broker.Transient("place order", errors.New("gateway timeout"))
	before := st.PaperBalance()

	exits, err := m.Run(context.Background(), 21700, strategy.SignalNone)
	require.Error(t, err)
	assert.True(t, broker.IsTransient(err))
	assert.Empty(t, exits)
	assert.Equal(t, 1, st.Count())
	assert.True(t, before.Equal(st.PaperBalance()))
	assert.Empty(t, j.fills)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.OrderFailures.WithLabelValues("SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.OpenPositions))

	// retried on the next cycle
	placer.fail = nil
	exits, err = m.Run(context.Background(), 21700, strategy.SignalNone)
	require.NoError(t, err)
	assert.Len(t, exits, 1)
	assert.Equal(t, 0, st.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.ExitsTotal.WithLabelValues(ReasonStopLoss)))
}

func TestRun_MissingQuoteKeepsPosition(t *testing.T) {
	m, st, placer, _ := newTestManager(t)
	m.quotes = &fakeQuoter{}

	_, err := m.Run(context.Background(), 21700, strategy.SignalNone)
	require.Error(t, err)
	assert.True(t, broker.IsTransient(err))
	assert.Empty(t, placer.reqs)
	assert.Equal(t, 1, st.Count())
}

func TestRun_FailedCloseSaveCreditsOnceOnRetry(t *testing.T) {
	file, err := state.NewFileRepository(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	gate := &saveGate{Repository: file}
	st, err := state.Open(gate, state.Options{PaperBalance: decimal.NewFromInt(100000)})
	require.NoError(t, err)
	require.NoError(t, st.OpenPosition(longPosition(), time.Now(), decimal.Zero))

	placer := &countingPlacer{inner: execution.NewPaperExecutor(st, 0)}
	m := NewManager(Config{StopLoss: 0.01, Mode: "paper"}, st, placer,
		&fakeQuoter{ltp: map[string]float64{"43152": 100}})

	gate.closed = true
	exits, err := m.Run(context.Background(), 21000, strategy.SignalNone)
	require.Error(t, err)
	assert.Empty(t, exits)
	assert.Equal(t, 1, st.Count())
	assert.Equal(t, "100000", st.PaperBalance().String())

	gate.closed = false
	exits, err = m.Run(context.Background(), 21000, strategy.SignalNone)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, 0, st.Count())
	assert.Len(t, placer.reqs, 2)

	// 100000 + 100*75, booked once
	assert.Equal(t, "107500", st.PaperBalance().String())
	reloaded, err := file.Load()
	require.NoError(t, err)
	assert.Equal(t, "107500", reloaded.PaperBalance.String())
}
