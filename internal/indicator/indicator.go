// Package indicator provides technical indicator calculations over bar data.
//
// Indicators consume one bar at a time and append one value per bar to each
// of their output series. Before enough history exists an indicator appends
// series.Undefined, so every line stays index-aligned with the bar history.
package indicator

import (
	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// Indicator is the capability shared by all technical indicators: produce
// values at the current cursor given the history fed so far.
type Indicator interface {
	// Name returns the indicator name (e.g., "KDJ_9", "MACD_12_26_9").
	Name() string

	// Update feeds the next bar and appends one value to every line.
	Update(bar model.Bar)

	// Ready returns true once the lookback window is filled.
	Ready() bool

	// Lines returns the output series in a stable order.
	Lines() []*series.Series
}
