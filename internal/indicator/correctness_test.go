package indicator

import (
	"errors"
	"math"
	"testing"

	"optiontrader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

// refCandles is the five-bar series used by the hand-calculated cases below.
func refCandles() []model.Candle {
	highs := []float64{100, 102, 104, 103, 105}
	lows := []float64{95, 96, 97, 98, 99}
	closes := []float64{98, 101, 103, 102, 104}
	out := make([]model.Candle, len(highs))
	for i := range highs {
		out[i] = model.Candle{Open: closes[i], High: highs[i], Low: lows[i], Close: closes[i]}
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_PartialWindow(t *testing.T) {
	// Values: 4, 8, 6, 10
	// After 1: 4
	// After 2: (4+8)/2 = 6
	// After 3: (4+8+6)/3 = 6
	// After 4: (8+6+10)/3 = 8
	sma := NewSMA(3)
	values := []float64{4, 8, 6, 10}
	expected := []float64{4, 6, 6, 8}
	ready := []bool{false, false, true, true}

	for i, v := range values {
		sma.Update(v)
		if sma.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(10)
	sma.Update(20)
	sma.Reset()
	if sma.Value() != 0 || sma.Ready() {
		t.Fatalf("after Reset: value=%v ready=%v", sma.Value(), sma.Ready())
	}
	sma.Update(7)
	assertClose(t, "SMA after reset", sma.Value(), 7, 1e-9)
}

// ────────────────────────────────────────────────────────────
// True range / ATR
// ────────────────────────────────────────────────────────────

func TestTrueRange_Reference(t *testing.T) {
	// i=0: 100-95 = 5
	// i=1: max(6, |102-98|, |96-98|) = 6
	// i=2: max(7, |104-101|, |97-101|) = 7
	// i=3: max(5, |103-103|, |98-103|) = 5
	// i=4: max(6, |105-102|, |99-102|) = 6
	got := TrueRange(refCandles())
	want := []float64{5, 6, 7, 5, 6}
	for i := range want {
		assertClose(t, "TR", got[i], want[i], 1e-9)
	}
}

func TestATR_Reference_Period3(t *testing.T) {
	atr, err := ATR(refCandles(), 3)
	if err != nil {
		t.Fatalf("ATR: %v", err)
	}
	want := []float64{5.0, 5.5, 6.0, 6.0, 6.0}
	if len(atr) != len(want) {
		t.Fatalf("len=%d, want %d", len(atr), len(want))
	}
	for i := range want {
		assertClose(t, "ATR(3)", atr[i], want[i], 1e-9)
	}
}

func TestATR_ShortInput(t *testing.T) {
	candles := refCandles()[:2]
	atr, err := ATR(candles, 14)
	if err != nil {
		t.Fatalf("ATR: %v", err)
	}
	if len(atr) != 2 {
		t.Fatalf("expected one value per candle, got %d", len(atr))
	}
	assertClose(t, "ATR[1]", atr[1], 5.5, 1e-9)
}

func TestATR_Errors(t *testing.T) {
	if _, err := ATR(nil, 3); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input: got %v, want ErrEmptyInput", err)
	}
	if _, err := ATR(refCandles(), 0); !errors.Is(err, ErrBadPeriod) {
		t.Errorf("zero period: got %v, want ErrBadPeriod", err)
	}
}

// ────────────────────────────────────────────────────────────
// Supertrend
// ────────────────────────────────────────────────────────────

func TestSupertrend_Bands(t *testing.T) {
	rows, err := Supertrend(refCandles(), Params{Period: 3, Multiplier: 1.5})
	if err != nil {
		t.Fatalf("Supertrend: %v", err)
	}
	wantUpper := []float64{105.0, 107.25, 109.5, 109.5, 111.0}
	wantLower := []float64{90.0, 90.75, 91.5, 91.5, 93.0}
	for i, r := range rows {
		assertClose(t, "upper", r.Upper, wantUpper[i], 1e-9)
		assertClose(t, "lower", r.Lower, wantLower[i], 1e-9)
	}
}

func TestSupertrend_Recurrence(t *testing.T) {
	rows, err := Supertrend(refCandles(), Params{Period: 3, Multiplier: 1.5})
	if err != nil {
		t.Fatalf("Supertrend: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("len=%d, want 5", len(rows))
	}
	if rows[0].Defined || !math.IsNaN(rows[0].Supertrend) {
		t.Errorf("row 0 should carry no supertrend value, got %+v", rows[0])
	}
	want := []float64{90.75, 91.5, 91.5, 93.0}
	for i, w := range want {
		r := rows[i+1]
		if !r.Defined {
			t.Errorf("row %d: expected defined", i+1)
		}
		if !r.Uptrend {
			t.Errorf("row %d: expected uptrend", i+1)
		}
		assertClose(t, "supertrend", r.Supertrend, w, 1e-5)
	}
}

func TestSupertrend_FlipsDownAndBack(t *testing.T) {
	c := func(h, l, cl float64) model.Candle { return model.Candle{Open: cl, High: h, Low: l, Close: cl} }
	candles := []model.Candle{
		c(101, 99, 100),
		c(101, 99, 100),
		c(90, 80, 81),    // closes below previous lower band (98) → downtrend
		c(91, 85, 88),    // inside the bands → stays down
		c(130, 120, 129), // closes above previous upper band → uptrend
	}
	rows, err := Supertrend(candles, Params{Period: 2, Multiplier: 1})
	if err != nil {
		t.Fatalf("Supertrend: %v", err)
	}
	trend := []bool{true, true, false, false, true}
	for i, r := range rows {
		if r.Uptrend != trend[i] {
			t.Errorf("row %d: uptrend=%v, want %v", i, r.Uptrend, trend[i])
		}
		if i == 0 {
			continue
		}
		want := r.Lower
		if !r.Uptrend {
			want = r.Upper
		}
		assertClose(t, "line follows band", r.Supertrend, want, 1e-9)
	}
}

func TestSupertrend_Deterministic(t *testing.T) {
	p := Params{Period: 3, Multiplier: 1.5}
	a, _ := Supertrend(refCandles(), p)
	b, _ := Supertrend(refCandles(), p)
	for i := range a {
		if a[i].Upper != b[i].Upper || a[i].Lower != b[i].Lower || a[i].Uptrend != b[i].Uptrend {
			t.Fatalf("row %d differs between identical runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSupertrend_InvalidParams(t *testing.T) {
	if _, err := Supertrend(refCandles(), Params{Period: 3}); !errors.Is(err, ErrBadMultiplier) {
		t.Errorf("got %v, want ErrBadMultiplier", err)
	}
	if _, err := Supertrend(nil, Params{Period: 3, Multiplier: 1}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
}

func TestLast(t *testing.T) {
	if _, ok := Last(nil); ok {
		t.Error("Last(nil) should report false")
	}
	rows, _ := Supertrend(refCandles(), Params{Period: 3, Multiplier: 1.5})
	r, ok := Last(rows)
	if !ok {
		t.Fatal("expected last row")
	}
	assertClose(t, "last supertrend", r.Supertrend, 93.0, 1e-9)
}
