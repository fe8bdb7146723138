// Package analyzer computes run statistics from the mark-to-market value
// series and the closed trades of a backtest.
package analyzer

import (
	"math"
	"time"

	"kdjtrader/internal/model"
)

// Analyzer observes a run bar by bar.
type Analyzer interface {
	Name() string
	// OnBar receives the portfolio value at bar close.
	OnBar(ts time.Time, value float64)
	// OnTrade receives each closed round trip.
	OnTrade(tr model.Trade)
	Report() Report
}

// Report is an analyzer's named results. Values that are undefined for the
// run (too few observations, zero deviation) are left out of Values.
type Report struct {
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

// Get returns the named value and whether it is defined.
func (r Report) Get(key string) (float64, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Defaults returns the analyzer set used by the backtest tool:
// TimeReturn, Sharpe (risk-free 1%), SQN and DrawDown.
func Defaults(startValue float64) []Analyzer {
	return []Analyzer{
		NewTimeReturn(startValue),
		NewSharpe(startValue, 0.01),
		NewSQN(),
		NewDrawDown(),
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// yearly tracks the value at each calendar year end.
type yearly struct {
	start  float64
	years  []int
	closes []float64
}

func (y *yearly) observe(ts time.Time, value float64) {
	yr := ts.Year()
	if n := len(y.years); n > 0 && y.years[n-1] == yr {
		y.closes[n-1] = value
		return
	}
	y.years = append(y.years, yr)
	y.closes = append(y.closes, value)
}

// returns gives one return per observed year, each relative to the previous
// year's close, the first relative to the start value.
func (y *yearly) returns() []float64 {
	out := make([]float64, 0, len(y.closes))
	prev := y.start
	for _, c := range y.closes {
		if prev == 0 {
			out = append(out, 0)
		} else {
			out = append(out, c/prev-1)
		}
		prev = c
	}
	return out
}
