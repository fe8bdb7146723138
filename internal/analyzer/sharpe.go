package analyzer

import (
	"time"

	"kdjtrader/internal/model"
)

// Sharpe is the annual Sharpe ratio: mean excess yearly return over its
// standard deviation. Undefined with no full year or zero deviation.
type Sharpe struct {
	y        yearly
	riskFree float64
}

func NewSharpe(startValue, riskFree float64) *Sharpe {
	return &Sharpe{y: yearly{start: startValue}, riskFree: riskFree}
}

func (a *Sharpe) Name() string { return "SharpeRatio" }

func (a *Sharpe) OnBar(ts time.Time, value float64) { a.y.observe(ts, value) }

func (a *Sharpe) OnTrade(model.Trade) {}

func (a *Sharpe) Report() Report {
	r := Report{Name: a.Name(), Values: map[string]float64{}}
	rets := a.y.returns()
	if len(rets) == 0 {
		return r
	}
	excess := make([]float64, len(rets))
	for i, ret := range rets {
		excess[i] = ret - a.riskFree
	}
	if sd := stddev(excess); sd > 0 {
		r.Values["sharperatio"] = mean(excess) / sd
	}
	return r
}
