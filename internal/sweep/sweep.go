// Package sweep grid-searches strategy parameters by running one backtest
// per combination on a bounded worker pool.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"kdjtrader/internal/analyzer"
	"kdjtrader/internal/backtest"
	"kdjtrader/internal/execution"
	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/sizer"
	"kdjtrader/internal/strategy"
)

// Params is one point of the grid.
type Params struct {
	Strategy     string  `json:"strategy"` // "kdj" or "macd"
	KDJPeriod    int     `json:"kdj_period"`
	CashFraction float64 `json:"cash_fraction"`
}

// Grid spans KDJ lookbacks and cash fractions for one strategy.
type Grid struct {
	Strategy  string
	Periods   []int
	Fractions []float64
}

// PeriodRange returns from, from+step, ... up to but excluding to.
func PeriodRange(from, to, step int) []int {
	return lo.RangeWithSteps(from, to, step)
}

// Combinations returns every period/fraction pair, periods outermost.
func (g Grid) Combinations() []Params {
	return lo.FlatMap(g.Periods, func(period int, _ int) []Params {
		return lo.Map(g.Fractions, func(fraction float64, _ int) Params {
			return Params{Strategy: g.Strategy, KDJPeriod: period, CashFraction: fraction}
		})
	})
}

// Outcome is the result of one combination.
type Outcome struct {
	Params     Params            `json:"params"`
	FinalValue float64           `json:"final_value"`
	Return     float64           `json:"return"`
	Trades     int               `json:"trades"`
	Reports    []analyzer.Report `json:"reports"`
	Err        error             `json:"-"`
}

// Runner runs combinations over a fixed bar set.
type Runner struct {
	Bars    []model.Bar
	Broker  execution.PaperConfig
	Workers int // default 4
	Logger  *slog.Logger
}

// Run backtests every combination and returns the outcomes sorted by final
// value, best first. A combination that fails keeps its error in Outcome.Err;
// Run itself fails only when ctx is done.
func (r *Runner) Run(ctx context.Context, combos []Params) ([]Outcome, error) {
	if len(r.Bars) == 0 {
		return nil, backtest.ErrNoBars
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Outcome, len(combos))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = r.runOne(ctx, combos[i], logger)
			}
		}()
	}

dispatch:
	for i := range combos {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].Err == nil) != (out[j].Err == nil) {
			return out[i].Err == nil
		}
		return out[i].FinalValue > out[j].FinalValue
	})
	return out, nil
}

func (r *Runner) runOne(ctx context.Context, p Params, logger *slog.Logger) Outcome {
	res := Outcome{Params: p}
	engine, err := Build(p, r.Broker, r.Bars[0].Symbol, logger)
	if err != nil {
		res.Err = err
		return res
	}
	run, err := engine.Run(ctx, r.Bars)
	if err != nil {
		res.Err = err
		return res
	}
	res.FinalValue = run.FinalValue
	if run.StartValue != 0 {
		res.Return = run.FinalValue/run.StartValue - 1
	}
	res.Trades = len(run.Trades)
	res.Reports = run.Reports
	return res
}

// Build wires a fresh paper broker, indicator set, sizer and strategy for p.
func Build(p Params, brokerCfg execution.PaperConfig, symbol string, logger *slog.Logger) (*backtest.Engine, error) {
	if symbol == "" {
		return nil, fmt.Errorf("sweep: empty symbol")
	}
	broker, err := execution.NewPaperBroker(brokerCfg)
	if err != nil {
		return nil, err
	}
	sz, err := sizer.NewFixedFraction(p.CashFraction)
	if err != nil {
		return nil, err
	}

	kdj := indicator.DefaultKDJConfig()
	if p.KDJPeriod > 0 {
		kdj.Period = p.KDJPeriod
	}
	setCfg := indicator.SetConfig{KDJ: kdj}

	var strat strategy.Strategy
	switch p.Strategy {
	case "macd":
		macd := indicator.DefaultMACDConfig()
		setCfg.MACD = &macd
		set := indicator.NewSet(symbol, setCfg)
		strat = strategy.NewMACDStrategy(symbol, set.MACD, broker, sz, logger)
		return backtest.New(strat, broker, set, analyzer.Defaults(brokerCfg.Cash), logger), nil
	case "", "kdj":
		set := indicator.NewSet(symbol, setCfg)
		strat = strategy.NewKDJStrategy(symbol, strategy.LinesOf(set.KDJ), broker, sz, strategy.DefaultKDJParams(), logger)
		return backtest.New(strat, broker, set, analyzer.Defaults(brokerCfg.Cash), logger), nil
	}
	return nil, fmt.Errorf("sweep: unknown strategy %q", p.Strategy)
}
