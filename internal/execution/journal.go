package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kdjtrader/internal/model"
)

// Journal persists fills to SQLite for analysis and audit.
type Journal struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
}

// NewJournal opens (or creates) a SQLite journal database. Every fill
// recorded through it is tagged with runID.
func NewJournal(dbPath, runID string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		size        INTEGER NOT NULL,
		price       REAL NOT NULL,
		value       REAL NOT NULL,
		commission  REAL NOT NULL,
		filled_at   TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db, runID: runID}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(fill model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (run_id, order_id, symbol, side, size, price, value, commission, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID,
		fill.OrderID,
		fill.Symbol,
		string(fill.Side),
		fill.Size,
		fill.Price,
		fill.Value,
		fill.Commission,
		fill.FilledAt.UTC().Format(time.RFC3339),
	)
	return err
}

// FillRecord represents a row from the fills table.
type FillRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       int64   `json:"size"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	Commission float64 `json:"commission"`
	FilledAt   string  `json:"filled_at"`
}

// GetFills returns the last limit fills of runID, newest first. An empty
// runID matches every run.
func (j *Journal) GetFills(runID string, limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, run_id, order_id, symbol, side, size, price, value, commission, filled_at
		 FROM fills WHERE (? = '' OR run_id = ?) ORDER BY id DESC LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.RunID, &f.OrderID, &f.Symbol, &f.Side,
			&f.Size, &f.Price, &f.Value, &f.Commission, &f.FilledAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ model.FillRecorder = (*Journal)(nil)
