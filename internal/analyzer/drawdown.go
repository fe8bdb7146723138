package analyzer

import (
	"time"

	"kdjtrader/internal/model"
)

// DrawDown tracks the decline from the running value peak: the current
// drawdown in percent and money, its length in bars, and the maxima.
type DrawDown struct {
	peak     float64
	seen     bool
	dd       float64
	money    float64
	length   int
	maxDD    float64
	maxMoney float64
	maxLen   int
}

func NewDrawDown() *DrawDown { return &DrawDown{} }

func (a *DrawDown) Name() string { return "DrawDown" }

func (a *DrawDown) OnBar(_ time.Time, value float64) {
	if !a.seen || value >= a.peak {
		a.peak = value
		a.seen = true
		a.dd, a.money, a.length = 0, 0, 0
		return
	}
	a.money = a.peak - value
	if a.peak != 0 {
		a.dd = 100 * a.money / a.peak
	}
	a.length++
	a.maxDD = max(a.maxDD, a.dd)
	a.maxMoney = max(a.maxMoney, a.money)
	a.maxLen = max(a.maxLen, a.length)
}

func (a *DrawDown) OnTrade(model.Trade) {}

func (a *DrawDown) Report() Report {
	return Report{Name: a.Name(), Values: map[string]float64{
		"drawdown":      a.dd,
		"moneydown":     a.money,
		"len":           float64(a.length),
		"max.drawdown":  a.maxDD,
		"max.moneydown": a.maxMoney,
		"max.len":       float64(a.maxLen),
	}}
}
