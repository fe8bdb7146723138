package indicator

import "kdjtrader/internal/series"

// EMA is an exponential moving average with multiplier 2/(period+1),
// seeded with the simple average of the first period defined values.
// It is the same recurrence as Smoother once the seed exists.
type EMA struct {
	period int
	warm   []float64
	sma    float64
	s      *Smoother // nil until period values were seen
}

// NewEMA creates an EMA. Periods below 1 are treated as 1.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, warm: make([]float64, 0, period)}
}

// Update feeds the next value. Undefined values are skipped.
func (e *EMA) Update(v float64) {
	if !series.IsDefined(v) {
		return
	}
	if e.s != nil {
		e.s.Next(v)
		return
	}
	e.warm = append(e.warm, v)
	if len(e.warm) < e.period {
		return
	}
	var sum float64
	for _, w := range e.warm {
		sum += w
	}
	e.sma = sum / float64(e.period)
	e.s = NewSeededSmoother(2.0/float64(e.period+1), e.sma)
	e.warm = e.warm[:0]
}

// Value returns the current average, series.Undefined until Ready.
func (e *EMA) Value() float64 {
	if e.s == nil {
		return series.Undefined
	}
	if !e.s.Started() {
		return e.sma
	}
	return e.s.Value()
}

func (e *EMA) Ready() bool { return e.s != nil }

func (e *EMA) Reset() {
	e.s = nil
	e.warm = e.warm[:0]
}
