package state

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"
)

// BadgerRepository stores the state under a single key in BadgerDB.
type BadgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// NewBadgerRepository opens (or creates) a BadgerDB database in dir.
func NewBadgerRepository(dir string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dir)
	// Badger's own logger is noisy; errors still come back from DB calls.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerRepository{db: db, stateKey: []byte("trade_state")}, nil
}

func (r *BadgerRepository) Save(st *TradeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

func (r *BadgerRepository) Load() (*TradeState, error) {
	var raw []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}
