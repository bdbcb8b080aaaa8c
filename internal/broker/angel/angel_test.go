package angel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optiontrader/internal/broker"
	"optiontrader/internal/markethours"
	"optiontrader/internal/metrics"
	"optiontrader/internal/model"
	"optiontrader/pkg/smartconnect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	rms       map[string]any
	candles   map[string]any
	market    map[string]any
	positions map[string]any
	scrips    []smartconnect.ScripRecord
	err       error

	candleParams map[string]any
	marketReq    map[string][]string
	scripCalls   int
}

func (f *fakeAPI) RMSLimit(context.Context) (map[string]any, error) { return f.rms, f.err }

func (f *fakeAPI) GetCandleData(_ context.Context, p map[string]any) (map[string]any, error) {
	f.candleParams = p
	return f.candles, f.err
}

func (f *fakeAPI) GetMarketData(_ context.Context, _ string, et map[string][]string) (map[string]any, error) {
	f.marketReq = et
	return f.market, f.err
}

func (f *fakeAPI) Position(context.Context) (map[string]any, error) { return f.positions, f.err }

func (f *fakeAPI) PlaceOrder(context.Context, map[string]any) (string, error) { return "", f.err }

func (f *fakeAPI) ScripMaster(context.Context) ([]smartconnect.ScripRecord, error) {
	f.scripCalls++
	return f.scrips, f.err
}

// decode turns a JSON literal into the shape the SmartAPI client returns.
func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

type countingSession struct{ calls int }

func (s *countingSession) Ensure(context.Context) error { s.calls++; return nil }

func TestBalance_ReadsAvailableCash(t *testing.T) {
	api := &fakeAPI{rms: decode(t, `{"status":true,"data":{"net":"5000.00","availablecash":"4210.75"}}`)}
	sess := &countingSession{}
	b := New(api, Config{}, sess, nil)

	bal, err := b.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4210.75, bal)
	assert.Equal(t, 1, sess.calls)
}

func TestBalance_ErrorsAreTransientAndCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	b := New(&fakeAPI{err: errors.New("connection reset")}, Config{}, nil, m)

	_, err := b.Balance(context.Background())
	require.Error(t, err)
	assert.True(t, broker.IsTransient(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrokerErrors.WithLabelValues("balance")))

	b = New(&fakeAPI{rms: decode(t, `{"data":{"availablecash":"n/a"}}`)}, Config{}, nil, nil)
	_, err = b.Balance(context.Background())
	assert.True(t, broker.IsTransient(err))
}

func TestHistoricalCandles(t *testing.T) {
	api := &fakeAPI{candles: decode(t, `{"status":true,"data":[
		["2026-03-02T09:20:00+05:30", 22010, 22030, 21990, 22020, 1200],
		["2026-03-02T09:15:00+05:30", 22000, 22015, 21980, 22010, 1500],
		["bad-ts", 1, 2, 3, 4, 5],
		["2026-03-02T09:25:00+05:30", "x", 1, 1, 1, 1]
	]}`)}
	b := New(api, Config{HistoryDays: 3}, nil, nil)
	b.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, markethours.IST) }

	candles, err := b.HistoricalCandles(context.Background(), "99926000", "NSE", "FIVE_MINUTE")
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 22000.0, candles[0].Open)
	assert.Equal(t, 22020.0, candles[1].Close)
	assert.Equal(t, int64(1200), candles[1].Volume)

	assert.Equal(t, "2026-02-27 10:00", api.candleParams["fromdate"])
	assert.Equal(t, "2026-03-02 10:00", api.candleParams["todate"])
	assert.Equal(t, "FIVE_MINUTE", api.candleParams["interval"])
}

func TestHistoricalCandles_NoData(t *testing.T) {
	b := New(&fakeAPI{candles: decode(t, `{"status":true,"data":null}`)}, Config{}, nil, nil)
	candles, err := b.HistoricalCandles(context.Background(), "99926000", "NSE", "FIVE_MINUTE")
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestQuotesAndSpot(t *testing.T) {
	api := &fakeAPI{market: decode(t, `{"status":true,"data":{"fetched":[
		{"exchange":"NSE","symbolToken":"99926000","ltp":22105.4}
	],"unfetched":[]}}`)}
	b := New(api, Config{SpotToken: "99926000"}, nil, nil)

	spot, err := b.SpotPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22105.4, spot)
	assert.Equal(t, map[string][]string{"NSE": {"99926000"}}, api.marketReq)

	b.cfg.SpotToken = "26009"
	_, err = b.SpotPrice(context.Background())
	assert.True(t, broker.IsTransient(err))
}

func TestOpenPositions_SkipsFlat(t *testing.T) {
	api := &fakeAPI{positions: decode(t, `{"status":true,"data":[
		{"tradingsymbol":"NIFTY05MAR2622000CE","symboltoken":"43152","exchange":"NFO","producttype":"INTRADAY","netqty":"75","avgnetprice":"120.50","ltp":"131"},
		{"tradingsymbol":"NIFTY05MAR2622100PE","symboltoken":"43160","exchange":"NFO","producttype":"INTRADAY","netqty":"0","avgnetprice":"0"}
	]}`)}
	b := New(api, Config{}, nil, nil)

	got, err := b.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.BrokerPosition{
		TradingSymbol: "NIFTY05MAR2622000CE", Token: "43152", Exchange: "NFO",
		ProductType: "INTRADAY", NetQty: 75, AvgPrice: 120.5, LTP: 131,
	}, got[0])
}

func TestPlaceOrder_OverHTTP(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"status":true,"data":{"orderid":"260302000012345"}}`))
	}))
	defer srv.Close()
	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "key", RootURL: srv.URL, ClientLocalIP: "10.0.0.1", ClientMAC: "aa:bb:cc:dd:ee:ff"})
	b := New(sc, Config{}, nil, nil)

	id, err := b.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "NIFTY05MAR2622000CE", Token: "43152", Exchange: "NFO", Quantity: 150, IsExit: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "260302000012345", id)
	assert.Equal(t, map[string]string{
		"variety": "NORMAL", "tradingsymbol": "NIFTY05MAR2622000CE", "symboltoken": "43152",
		"transactiontype": "SELL", "exchange": "NFO", "ordertype": "MARKET",
		"producttype": "INTRADAY", "duration": "DAY", "quantity": "150",
	}, body)
}
