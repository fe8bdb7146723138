package model

import (
	"context"
	"time"
)

// Storage ports implemented by internal/store/sqlite and the execution
// journal. cmd tools depend on these rather than on the SQLite types.

// BarReader loads historical bars for replay.
type BarReader interface {
	// ReadBars returns bars for symbol with from <= ts <= to, ordered by ts.
	// A zero from or to leaves that side open.
	ReadBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter stores bars, replacing any existing bar with the same timestamp.
type BarWriter interface {
	WriteBars(ctx context.Context, bars []Bar) (int, error)
	Close() error
}

// FillRecorder persists fills for audit and later analysis.
type FillRecorder interface {
	RecordFill(fill Fill) error
}
