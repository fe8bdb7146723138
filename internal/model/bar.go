package model

import (
	"encoding/json"
	"time"
)

// Bar is one historical OHLCV bar for a single instrument.
// Bars are immutable once appended to a history.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // unique, strictly increasing within a feed
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar's prices are internally consistent.
func (b *Bar) Valid() bool {
	if b.TS.IsZero() {
		return false
	}
	if b.High < b.Low {
		return false
	}
	return b.Open >= b.Low && b.Open <= b.High && b.Close >= b.Low && b.Close <= b.High
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
