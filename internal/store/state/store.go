package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"optiontrader/internal/model"
)

// Options controls how a Store is opened.
type Options struct {
	// StartFresh discards persisted state, including a corrupt document.
	StartFresh bool
	// PaperBalance seeds the paper ledger of a fresh state.
	PaperBalance decimal.Decimal
}

// Store is the process-wide owner of TradeState. Each mutation is applied to
// a copy, persisted, and only then made visible; a failed save leaves both
// memory and disk unchanged.
type Store struct {
	mu   sync.RWMutex
	repo Repository
	st   *TradeState
	now  func() time.Time
	log  *slog.Logger
}

// Open loads the state from repo. It fails with ErrCorruptState when the
// stored document is unreadable and opts.StartFresh is not set.
func Open(repo Repository, opts Options) (*Store, error) {
	s := &Store{repo: repo, now: time.Now, log: slog.With("component", "state")}

	st, err := repo.Load()
	switch {
	case opts.StartFresh:
		if err != nil {
			s.log.Warn("discarding unreadable state", "error", err)
		} else if st != nil {
			s.log.Warn("discarding persisted state", "open_positions", len(st.OpenPositions))
		}
		st = nil
	case errors.Is(err, ErrCorruptState):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("load state: %w", err)
	}

	if st == nil {
		st = NewTradeState(opts.PaperBalance)
		st.UpdatedAt = s.now()
		if err := repo.Save(st); err != nil {
			return nil, fmt.Errorf("save fresh state: %w", err)
		}
		s.log.Info("initialised fresh trade state", "paper_balance", st.PaperBalance.String())
	} else {
		s.log.Info("trade state loaded",
			"open_positions", len(st.OpenPositions),
			"last_trade", st.LastTradeAt,
			"paper_balance", st.PaperBalance.String())
	}
	s.st = st
	return s, nil
}

// mutate applies fn to a copy of the state and commits it once saved.
func (s *Store) mutate(fn func(st *TradeState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	if err := s.repo.Save(next); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.st = next
	return nil
}

// OpenPosition records p, stamps the last trade time and adds paperDelta to
// the paper balance in one save. Live entries pass a zero delta.
func (s *Store) OpenPosition(p model.Position, at time.Time, paperDelta decimal.Decimal) error {
	return s.mutate(func(st *TradeState) error {
		if _, ok := st.OpenPositions[p.Symbol]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePosition, p.Symbol)
		}
		st.OpenPositions[p.Symbol] = p
		st.LastTradeAt = at
		st.PaperBalance = st.PaperBalance.Add(paperDelta)
		return nil
	})
}

// ClosePosition removes symbol from the open set and adds paperDelta to the
// paper balance in one save.
func (s *Store) ClosePosition(symbol string, paperDelta decimal.Decimal) error {
	return s.mutate(func(st *TradeState) error {
		if _, ok := st.OpenPositions[symbol]; !ok {
			return fmt.Errorf("%w: %s", ErrNoPosition, symbol)
		}
		delete(st.OpenPositions, symbol)
		st.PaperBalance = st.PaperBalance.Add(paperDelta)
		return nil
	})
}

// Position returns the open position for symbol.
func (s *Store) Position(symbol string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.OpenPositions[symbol]
	return p, ok
}

// Positions returns the open positions ordered by symbol.
func (s *Store) Positions() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.st.OpenPositions))
	for _, sym := range s.st.Symbols() {
		out = append(out, s.st.OpenPositions[sym])
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.OpenPositions)
}

func (s *Store) LastTradeAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.LastTradeAt
}

func (s *Store) PaperBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.PaperBalance
}

// Snapshot returns a copy of the full state.
func (s *Store) Snapshot() *TradeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone()
}

func (s *Store) Close() error {
	return s.repo.Close()
}
