package analyzer

import (
	"math"
	"time"

	"kdjtrader/internal/model"
)

// SQN is the system quality number sqrt(n) * mean(pnl) / stddev(pnl) over
// the net PnL of closed trades. Undefined below two trades.
type SQN struct {
	pnl []float64
}

func NewSQN() *SQN { return &SQN{} }

func (a *SQN) Name() string { return "SQN" }

func (a *SQN) OnBar(time.Time, float64) {}

func (a *SQN) OnTrade(tr model.Trade) { a.pnl = append(a.pnl, tr.PnLNet) }

func (a *SQN) Report() Report {
	r := Report{Name: a.Name(), Values: map[string]float64{"trades": float64(len(a.pnl))}}
	if len(a.pnl) < 2 {
		return r
	}
	if sd := stddev(a.pnl); sd > 0 {
		r.Values["sqn"] = math.Sqrt(float64(len(a.pnl))) * mean(a.pnl) / sd
	}
	return r
}
