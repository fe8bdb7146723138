package model

import "time"

// Trade is a closed round trip: one entry fill and the close that flattened it.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Size       int64     `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	PnL        float64   `json:"pnl"`     // gross, (exit-entry)*size
	PnLNet     float64   `json:"pnl_net"` // after entry and exit commission
	Commission float64   `json:"commission"`
	Bars       int       `json:"bars"` // bars held, entry bar to exit bar
}
