package execution

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"optiontrader/internal/model"
)

// Fill is one executed order as recorded in the journal.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Kind       Kind            `json:"kind"`
	Side       model.Side      `json:"side"`
	Symbol     string          `json:"symbol"`
	Token      string          `json:"token"`
	Exchange   string          `json:"exchange"`
	Direction  model.Direction `json:"direction"`
	Qty        int64           `json:"qty"`
	Price      float64         `json:"price"`      // option premium
	Underlying float64         `json:"underlying"` // underlying level at fill
	Reason     string          `json:"reason"`
	FilledAt   time.Time       `json:"filled_at"`
}

// NewFill builds a journal entry from an accepted order.
func NewFill(req model.OrderRequest, res OrderResult, dir model.Direction, underlying float64, reason string, at time.Time) Fill {
	price := req.Price
	if res.Paper != nil {
		price = res.Paper.Price
	}
	return Fill{
		OrderID:    res.OrderID(),
		Kind:       res.Kind,
		Side:       req.Side(),
		Symbol:     req.Symbol,
		Token:      req.Token,
		Exchange:   req.Exchange,
		Direction:  dir,
		Qty:        req.Quantity,
		Price:      price,
		Underlying: underlying,
		Reason:     reason,
		FilledAt:   at,
	}
}

// Journal persists trade fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		side        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		token       TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		direction   TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		underlying  REAL NOT NULL,
		reason      TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("opened trade journal", "component", "journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(fill Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, kind, side, symbol, token, exchange, direction, qty, price, underlying, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		string(fill.Kind),
		string(fill.Side),
		fill.Symbol,
		fill.Token,
		fill.Exchange,
		string(fill.Direction),
		fill.Qty,
		fill.Price,
		fill.Underlying,
		fill.Reason,
		fill.FilledAt.UTC().Format(time.RFC3339),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID         int64   `json:"id"`
	OrderID    string  `json:"order_id"`
	Kind       string  `json:"kind"`
	Side       string  `json:"side"`
	Symbol     string  `json:"symbol"`
	Token      string  `json:"token"`
	Exchange   string  `json:"exchange"`
	Direction  string  `json:"direction"`
	Qty        int64   `json:"qty"`
	Price      float64 `json:"price"`
	Underlying float64 `json:"underlying"`
	Reason     string  `json:"reason"`
	FilledAt   string  `json:"filled_at"`
}

// Notional is the signed cash flow of the trade: negative for buys.
func (t *TradeRecord) Notional() float64 {
	n := t.Price * float64(t.Qty)
	if t.Side == string(model.Buy) {
		return -n
	}
	return n
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	return j.query(
		`SELECT id, order_id, kind, side, symbol, token, exchange, direction, qty, price, underlying, COALESCE(reason, ''), filled_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
}

// TradesSince returns trades filled at or after since, oldest first.
func (j *Journal) TradesSince(since time.Time) ([]TradeRecord, error) {
	return j.query(
		`SELECT id, order_id, kind, side, symbol, token, exchange, direction, qty, price, underlying, COALESCE(reason, ''), filled_at
		 FROM trades WHERE filled_at >= ? ORDER BY id ASC`, since.UTC().Format(time.RFC3339))
}

func (j *Journal) query(q string, args ...any) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Kind, &t.Side, &t.Symbol, &t.Token, &t.Exchange,
			&t.Direction, &t.Qty, &t.Price, &t.Underlying, &t.Reason, &t.FilledAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DB returns the underlying handle for liveness probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Ping checks the database connection.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
