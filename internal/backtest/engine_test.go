package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"kdjtrader/internal/analyzer"
	"kdjtrader/internal/execution"
	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/sizer"
	"kdjtrader/internal/strategy"
)

const sym = "HK.00700"

var t0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func randomBars(seed int64, n int) []model.Bar {
	r := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, n)
	price := 100.0
	for i := range bars {
		open := price * (1 + (r.Float64()-0.5)*0.04)
		cl := open * (1 + (r.Float64()-0.5)*0.06)
		hi := math.Max(open, cl) * (1 + r.Float64()*0.02)
		lo := math.Min(open, cl) * (1 - r.Float64()*0.02)
		bars[i] = model.Bar{Symbol: sym, TS: t0.AddDate(0, 0, i), Open: open, High: hi, Low: lo, Close: cl, Volume: 1000}
		price = cl
	}
	return bars
}

// guardBroker fails the test when an order is submitted while the previous
// one has neither filled nor been cancelled.
type guardBroker struct {
	*execution.PaperBroker
	t    *testing.T
	last *model.Order
	subs int
}

func (g *guardBroker) SubmitBuy(ctx context.Context, symbol string, size int64, ts time.Time) (*model.Order, error) {
	g.check(ts)
	o, err := g.PaperBroker.SubmitBuy(ctx, symbol, size, ts)
	g.last = o
	return o, err
}

func (g *guardBroker) SubmitClose(ctx context.Context, symbol string, ts time.Time) (*model.Order, error) {
	g.check(ts)
	o, err := g.PaperBroker.SubmitClose(ctx, symbol, ts)
	g.last = o
	return o, err
}

func (g *guardBroker) check(ts time.Time) {
	g.subs++
	if g.last.IsPending() {
		g.t.Errorf("%s: submission while order %s is pending", ts.Format("2006-01-02"), g.last.ID)
	}
}

type countingObserver struct {
	BaseObserver
	bars, signals, fills, cancels int
	lastValues                    []indicator.Value
}

func (c *countingObserver) OnBar(_ model.Bar, v []indicator.Value, _ float64) {
	c.bars++
	c.lastValues = v
}
func (c *countingObserver) OnSignal(strategy.Signal)        { c.signals++ }
func (c *countingObserver) OnFill(*model.Order, model.Fill) { c.fills++ }
func (c *countingObserver) OnCancel(*model.Order)           { c.cancels++ }

func newKDJRun(t *testing.T, broker strategy.Broker, paper *execution.PaperBroker) (*Engine, *indicator.Set) {
	t.Helper()
	set := indicator.NewSet(sym, indicator.DefaultSetConfig())
	sz, err := sizer.NewFixedFraction(0.2)
	if err != nil {
		t.Fatal(err)
	}
	strat := strategy.NewKDJStrategy(sym, strategy.LinesOf(set.KDJ), broker, sz, strategy.DefaultKDJParams(), nil)
	return New(strat, &wrapped{Broker: broker, PaperBroker: paper}, set, analyzer.Defaults(paper.Cash()), nil), set
}

// wrapped routes order submission through the test's broker and the rest
// of the engine's Broker methods to the paper broker.
type wrapped struct {
	strategy.Broker
	*execution.PaperBroker
}

func (w *wrapped) SubmitBuy(ctx context.Context, s string, n int64, ts time.Time) (*model.Order, error) {
	return w.Broker.SubmitBuy(ctx, s, n, ts)
}

func (w *wrapped) SubmitClose(ctx context.Context, s string, ts time.Time) (*model.Order, error) {
	return w.Broker.SubmitClose(ctx, s, ts)
}

func (w *wrapped) Cash() float64 { return w.PaperBroker.Cash() }

func TestEngine_NeverSubmitsWhilePending(t *testing.T) {
	ctx := context.Background()
	r := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		cfg := execution.DefaultPaperConfig()
		cfg.FillDelay = r.Intn(4)
		paper, err := execution.NewPaperBroker(cfg)
		if err != nil {
			t.Fatal(err)
		}
		g := &guardBroker{PaperBroker: paper, t: t}
		eng, _ := newKDJRun(t, g, paper)

		res, err := eng.Run(ctx, randomBars(int64(run), 300))
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.Bars != 300 {
			t.Errorf("run %d: bars = %d", run, res.Bars)
		}
		if len(res.Signals) != g.subs {
			t.Errorf("run %d: %d signals for %d submissions", run, len(res.Signals), g.subs)
		}
		if res.FinalState.Pending() {
			t.Errorf("run %d: order still pending after end of data", run)
		}
		if paper.Cash() < 0 {
			t.Errorf("run %d: negative cash %v", run, paper.Cash())
		}
	}
}

func TestEngine_ObserversAndAnalyzers(t *testing.T) {
	paper, _ := execution.NewPaperBroker(execution.DefaultPaperConfig())
	eng, _ := newKDJRun(t, paper, paper)
	obs := &countingObserver{}
	eng.AddObserver(obs)

	bars := randomBars(42, 250)
	res, err := eng.Run(context.Background(), bars)
	if err != nil {
		t.Fatal(err)
	}
	if obs.bars != len(bars) {
		t.Errorf("observer saw %d bars, want %d", obs.bars, len(bars))
	}
	if obs.signals != len(res.Signals) || obs.fills != len(res.Fills) {
		t.Errorf("observer signals=%d fills=%d, result %d/%d", obs.signals, obs.fills, len(res.Signals), len(res.Fills))
	}
	if len(obs.lastValues) != 7 {
		t.Errorf("expected 7 indicator values per bar, got %d", len(obs.lastValues))
	}
	if len(res.Reports) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(res.Reports))
	}
	for _, r := range res.Reports {
		if r.Name != "SQN" {
			continue
		}
		if n, _ := r.Get("trades"); int(n) != len(res.Trades) {
			t.Errorf("SQN saw %v trades, result has %d", n, len(res.Trades))
		}
	}
	if !res.From.Equal(bars[0].TS) || !res.To.Equal(bars[len(bars)-1].TS) {
		t.Errorf("range %v..%v", res.From, res.To)
	}
}

// scripted buys on the first evaluation and closes on the third.
type scripted struct {
	broker strategy.Broker
	state  strategy.State
	evals  int
}

func (s *scripted) Name() string           { return "scripted" }
func (s *scripted) State() strategy.State { return s.state }

func (s *scripted) Evaluate(model.Bar) {
	s.evals++
	switch s.evals {
	case 1:
		s.state.BuyFlag = true
	case 3:
		s.state.SellFlag = true
	}
}

func (s *scripted) Execute(ctx context.Context, bar model.Bar, _ *model.Bar) (*strategy.Signal, error) {
	var (
		o      *model.Order
		err    error
		action strategy.Action
	)
	switch {
	case s.state.BuyFlag:
		s.state.BuyFlag = false
		action = strategy.ActionBuy
		o, err = s.broker.SubmitBuy(ctx, sym, 10, bar.TS)
	case s.state.SellFlag:
		s.state.SellFlag = false
		action = strategy.ActionClose
		o, err = s.broker.SubmitClose(ctx, sym, bar.TS)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.state.PendingOrder = o
	return &strategy.Signal{Action: action, OrderID: o.ID, TS: bar.TS}, nil
}

func (s *scripted) OnFilled(o *model.Order, _ model.Fill) {
	s.state.PendingOrder = nil
	if o.Side == model.SideBuy {
		s.state.Position = strategy.Long
	} else {
		s.state.Position = strategy.Flat
	}
}

func (s *scripted) OnCancelled(*model.Order) { s.state.PendingOrder = nil }

func TestEngine_DecideAtCloseFillAtNextOpen(t *testing.T) {
	paper, _ := execution.NewPaperBroker(execution.DefaultPaperConfig())
	s := &scripted{broker: paper, state: strategy.NewState()}
	set := indicator.NewSet(sym, indicator.DefaultSetConfig())
	eng := New(s, paper, set, nil, nil)

	bars := []model.Bar{
		{Symbol: sym, TS: t0, Open: 10, High: 12, Low: 9, Close: 11},
		{Symbol: sym, TS: t0.AddDate(0, 0, 1), Open: 20, High: 22, Low: 19, Close: 21},
		{Symbol: sym, TS: t0.AddDate(0, 0, 2), Open: 30, High: 32, Low: 29, Close: 31},
		{Symbol: sym, TS: t0.AddDate(0, 0, 3), Open: 40, High: 42, Low: 39, Close: 41},
	}
	res, err := eng.Run(context.Background(), bars)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(res.Fills))
	}
	if res.Fills[0].Price != 20 || !res.Fills[0].FilledAt.Equal(bars[1].TS) {
		t.Errorf("buy decided on bar 0 should fill at bar 1 open, got %+v", res.Fills[0])
	}
	if res.Fills[1].Price != 40 {
		t.Errorf("close decided on bar 2 should fill at bar 3 open, got %+v", res.Fills[1])
	}
	if len(res.Trades) != 1 || res.Trades[0].PnL != 200 {
		t.Errorf("unexpected trades %+v", res.Trades)
	}
}

func TestEngine_RejectsBadInput(t *testing.T) {
	newEngine := func() *Engine {
		paper, _ := execution.NewPaperBroker(execution.DefaultPaperConfig())
		eng, _ := newKDJRun(t, paper, paper)
		return eng
	}
	ctx := context.Background()

	if _, err := newEngine().Run(ctx, nil); !errors.Is(err, ErrNoBars) {
		t.Errorf("got %v, want ErrNoBars", err)
	}

	bars := randomBars(1, 5)
	bars[3].TS = bars[2].TS
	if _, err := newEngine().Run(ctx, bars); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("got %v, want ErrOutOfOrder", err)
	}

	bars = randomBars(1, 5)
	bars[2].High = bars[2].Low - 1
	if _, err := newEngine().Run(ctx, bars); !errors.Is(err, ErrInvalidBar) {
		t.Errorf("got %v, want ErrInvalidBar", err)
	}

	bars = randomBars(1, 5)
	bars[1].Symbol = "OTHER"
	if _, err := newEngine().Run(ctx, bars); !errors.Is(err, ErrInvalidBar) {
		t.Errorf("got %v, want ErrInvalidBar for a foreign symbol", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := newEngine().Run(cctx, randomBars(1, 5)); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
