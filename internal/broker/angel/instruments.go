package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"optiontrader/internal/model"
	"optiontrader/internal/options"
	"optiontrader/pkg/smartconnect"
)

// ErrUnknownSymbol is returned by Lookup for a symbol not in the master.
var ErrUnknownSymbol = errors.New("angel: symbol not in instrument master")

// ScripSource downloads the instrument master.
type ScripSource interface {
	ScripMaster(ctx context.Context) ([]smartconnect.ScripRecord, error)
}

// Instruments caches the option rows of the instrument master and reloads
// them after ttl.
type Instruments struct {
	src ScripSource
	ttl time.Duration
	now func() time.Time
	log *slog.Logger

	mu       sync.Mutex
	loadedAt time.Time
	options  map[string][]model.Instrument // underlying name -> contracts
	bySymbol map[string]model.Instrument
}

// NewInstruments creates a lazy cache over src.
func NewInstruments(src ScripSource, ttl time.Duration) *Instruments {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Instruments{
		src: src,
		ttl: ttl,
		now: time.Now,
		log: slog.With("component", "instruments"),
	}
}

func (in *Instruments) load(ctx context.Context) error {
	if in.options != nil && in.now().Sub(in.loadedAt) < in.ttl {
		return nil
	}
	recs, err := in.src.ScripMaster(ctx)
	if err != nil {
		if in.options != nil {
			in.log.Warn("instrument master refresh failed, keeping cached copy", "error", err)
			return nil
		}
		return fmt.Errorf("instrument master: %w", err)
	}

	opts := make(map[string][]model.Instrument)
	bySymbol := make(map[string]model.Instrument, len(recs))
	for _, r := range recs {
		inst, ok := toInstrument(r)
		if !ok {
			continue
		}
		bySymbol[inst.TradingSymbol] = inst
		if inst.OptionType != "" {
			opts[inst.Name] = append(opts[inst.Name], inst)
		}
	}
	in.options = opts
	in.bySymbol = bySymbol
	in.loadedAt = in.now()
	in.log.Info("instrument master loaded", "records", len(recs), "underlyings", len(opts))
	return nil
}

// toInstrument converts a master row. Option rows get their side from the
// trading symbol suffix and their strike converted from paise.
func toInstrument(r smartconnect.ScripRecord) (model.Instrument, bool) {
	if r.Token == "" || r.Symbol == "" {
		return model.Instrument{}, false
	}
	inst := model.Instrument{
		Token:          r.Token,
		Exchange:       r.ExchSeg,
		TradingSymbol:  r.Symbol,
		Name:           strings.ToUpper(r.Name),
		InstrumentType: r.InstrumentType,
	}
	inst.LotSize, _ = strconv.Atoi(r.LotSize)

	if r.InstrumentType != "OPTIDX" && r.InstrumentType != "OPTSTK" {
		return inst, true
	}
	switch {
	case strings.HasSuffix(r.Symbol, "CE"):
		inst.OptionType = model.Call
	case strings.HasSuffix(r.Symbol, "PE"):
		inst.OptionType = model.Put
	default:
		return inst, true
	}
	exp, err := options.ParseExpiry(r.Expiry)
	if err != nil {
		return model.Instrument{}, false
	}
	paise, err := strconv.ParseFloat(r.Strike, 64)
	if err != nil || paise <= 0 {
		return model.Instrument{}, false
	}
	inst.Expiry = exp
	inst.Strike = paise / 100
	return inst, true
}

// Expiries lists the distinct option expiries of underlying, earliest first.
func (in *Instruments) Expiries(ctx context.Context, underlying string) ([]time.Time, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.load(ctx); err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, inst := range in.options[strings.ToUpper(underlying)] {
		if !seen[inst.Expiry] {
			seen[inst.Expiry] = true
			out = append(out, inst.Expiry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Contracts lists the contracts of underlying for one expiry and side,
// ordered by strike.
func (in *Instruments) Contracts(ctx context.Context, underlying string, expiry time.Time, side model.OptionType) ([]model.Instrument, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.load(ctx); err != nil {
		return nil, err
	}

	var out []model.Instrument
	for _, inst := range in.options[strings.ToUpper(underlying)] {
		if inst.OptionType == side && inst.Expiry.Equal(expiry) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out, nil
}

// Lookup finds an instrument by trading symbol.
func (in *Instruments) Lookup(ctx context.Context, symbol string) (model.Instrument, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.load(ctx); err != nil {
		return model.Instrument{}, err
	}
	inst, ok := in.bySymbol[symbol]
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return inst, nil
}
