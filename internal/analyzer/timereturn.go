package analyzer

import (
	"strconv"
	"time"

	"kdjtrader/internal/model"
)

// TimeReturn reports the return over the whole run ("total") and per
// calendar year (keyed by the year).
type TimeReturn struct {
	y    yearly
	last float64
	seen bool
}

// NewTimeReturn measures returns against startValue, the value before the
// first bar.
func NewTimeReturn(startValue float64) *TimeReturn {
	return &TimeReturn{y: yearly{start: startValue}}
}

func (a *TimeReturn) Name() string { return "TimeReturn" }

func (a *TimeReturn) OnBar(ts time.Time, value float64) {
	a.y.observe(ts, value)
	a.last = value
	a.seen = true
}

func (a *TimeReturn) OnTrade(model.Trade) {}

func (a *TimeReturn) Report() Report {
	r := Report{Name: a.Name(), Values: map[string]float64{}}
	if !a.seen || a.y.start == 0 {
		return r
	}
	r.Values["total"] = a.last/a.y.start - 1
	for i, ret := range a.y.returns() {
		r.Values[strconv.Itoa(a.y.years[i])] = ret
	}
	return r
}
