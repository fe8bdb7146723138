// Package backtest replays historical bars through an indicator set, a
// strategy and a simulated broker.
//
// Per bar i the engine runs, in order:
//
//  1. strategy execution phase at bar i's open (flags raised at bar i-1)
//  2. broker settlement of the orders due at bar i's open
//  3. indicator update with bar i
//  4. strategy evaluation phase on bar i's close-based values
//  5. analyzers and observers receive bar i's mark-to-market value
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kdjtrader/internal/analyzer"
	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

var (
	ErrNoBars     = errors.New("backtest: no bars")
	ErrOutOfOrder = errors.New("backtest: bar timestamps must strictly increase")
	ErrInvalidBar = errors.New("backtest: invalid bar")
)

// Broker is the simulated broker the engine drives.
type Broker interface {
	strategy.Broker
	SetListener(l strategy.OrderListener)
	// Settle fills or cancels the orders due at bar's open.
	Settle(ctx context.Context, bar model.Bar) error
	// End handles orders still pending after the last bar.
	End(ctx context.Context) error
	MarkToMarket(bar model.Bar) float64
	Value() float64
	Fills() []model.Fill
	Trades() []model.Trade
}

// Observer receives run events. Embed BaseObserver to implement a subset.
type Observer interface {
	OnBar(bar model.Bar, values []indicator.Value, equity float64)
	OnSignal(sig strategy.Signal)
	OnFill(order *model.Order, fill model.Fill)
	OnCancel(order *model.Order)
}

// BaseObserver ignores every event.
type BaseObserver struct{}

func (BaseObserver) OnBar(model.Bar, []indicator.Value, float64) {}
func (BaseObserver) OnSignal(strategy.Signal)                     {}
func (BaseObserver) OnFill(*model.Order, model.Fill)              {}
func (BaseObserver) OnCancel(*model.Order)                        {}

// Result summarizes a finished run.
type Result struct {
	Symbol     string            `json:"symbol"`
	Strategy   string            `json:"strategy"`
	Bars       int               `json:"bars"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	StartValue float64           `json:"start_value"`
	FinalValue float64           `json:"final_value"`
	Signals    []strategy.Signal `json:"signals"`
	Fills      []model.Fill      `json:"fills"`
	Trades     []model.Trade     `json:"trades"`
	Reports    []analyzer.Report `json:"reports"`
	FinalState strategy.State    `json:"-"`
}

// Engine runs one strategy over one instrument's bars.
type Engine struct {
	strat     strategy.Strategy
	broker    Broker
	set       *indicator.Set
	analyzers []analyzer.Analyzer
	observers []Observer
	logger    *slog.Logger

	trades int
}

// New wires an engine. The engine registers itself as the broker's order
// listener and forwards notifications to strat.
func New(strat strategy.Strategy, broker Broker, set *indicator.Set, analyzers []analyzer.Analyzer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		strat:     strat,
		broker:    broker,
		set:       set,
		analyzers: analyzers,
		logger:    logger.With(slog.String("component", "backtest")),
	}
	broker.SetListener(e)
	return e
}

// AddObserver registers o for run events.
func (e *Engine) AddObserver(o Observer) { e.observers = append(e.observers, o) }

func (e *Engine) OnFilled(order *model.Order, fill model.Fill) {
	e.strat.OnFilled(order, fill)
	for _, o := range e.observers {
		o.OnFill(order, fill)
	}
}

func (e *Engine) OnCancelled(order *model.Order) {
	e.strat.OnCancelled(order)
	for _, o := range e.observers {
		o.OnCancel(order)
	}
}

// Run replays bars in order. bars must belong to the set's symbol and have
// strictly increasing timestamps; the run stops at the first bad bar.
func (e *Engine) Run(ctx context.Context, bars []model.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	res := &Result{
		Symbol:     e.set.Symbol(),
		Strategy:   e.strat.Name(),
		From:       bars[0].TS,
		StartValue: e.broker.Value(),
	}
	e.logger.Info("backtest started",
		slog.String("symbol", res.Symbol), slog.String("strategy", res.Strategy),
		slog.Int("bars", len(bars)), slog.Float64("start_value", res.StartValue))

	var prev *model.Bar
	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := bars[i]
		if err := e.check(bar, prev); err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, bar.TS.Format(time.RFC3339), err)
		}

		sig, err := e.strat.Execute(ctx, bar, prev)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		if sig != nil {
			res.Signals = append(res.Signals, *sig)
			for _, o := range e.observers {
				o.OnSignal(*sig)
			}
		}

		if err := e.broker.Settle(ctx, bar); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error("settle", slog.Int("bar", i), slog.String("error", err.Error()))
		}
		e.feedTrades()

		values := e.set.Process(bar)
		e.strat.Evaluate(bar)

		equity := e.broker.MarkToMarket(bar)
		for _, a := range e.analyzers {
			a.OnBar(bar.TS, equity)
		}
		for _, o := range e.observers {
			o.OnBar(bar, values, equity)
		}

		prev = &bars[i]
		res.Bars++
	}

	if err := e.broker.End(ctx); err != nil {
		e.logger.Error("end of data", slog.String("error", err.Error()))
	}
	e.feedTrades()

	res.To = prev.TS
	res.FinalValue = e.broker.Value()
	res.Fills = e.broker.Fills()
	res.Trades = e.broker.Trades()
	res.FinalState = e.strat.State()
	for _, a := range e.analyzers {
		res.Reports = append(res.Reports, a.Report())
	}
	e.logger.Info("backtest finished",
		slog.Int("bars", res.Bars), slog.Int("trades", len(res.Trades)),
		slog.Float64("final_value", res.FinalValue))
	return res, nil
}

func (e *Engine) check(bar model.Bar, prev *model.Bar) error {
	if !bar.Valid() {
		return ErrInvalidBar
	}
	if bar.Symbol != e.set.Symbol() {
		return fmt.Errorf("%w: symbol %q, engine runs %q", ErrInvalidBar, bar.Symbol, e.set.Symbol())
	}
	if prev != nil && !bar.TS.After(prev.TS) {
		return ErrOutOfOrder
	}
	return nil
}

// feedTrades passes trades closed since the last call to the analyzers.
func (e *Engine) feedTrades() {
	trades := e.broker.Trades()
	for _, tr := range trades[e.trades:] {
		for _, a := range e.analyzers {
			a.OnTrade(tr)
		}
	}
	e.trades = len(trades)
}
