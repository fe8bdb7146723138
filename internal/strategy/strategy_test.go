package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
	"kdjtrader/internal/sizer"
)

// fakeBroker records submissions and never calls back on its own.
type fakeBroker struct {
	cash   float64
	orders []*model.Order
	err    error
}

func (b *fakeBroker) SubmitBuy(_ context.Context, symbol string, size int64, ts time.Time) (*model.Order, error) {
	return b.submit(symbol, model.SideBuy, size, ts)
}

func (b *fakeBroker) SubmitClose(_ context.Context, symbol string, ts time.Time) (*model.Order, error) {
	return b.submit(symbol, model.SideClose, 0, ts)
}

func (b *fakeBroker) submit(symbol string, side model.Side, size int64, ts time.Time) (*model.Order, error) {
	if b.err != nil {
		return nil, b.err
	}
	o := &model.Order{
		ID:          fmt.Sprintf("o%d", len(b.orders)+1),
		Symbol:      symbol,
		Side:        side,
		Size:        size,
		Status:      model.StatusSubmitted,
		SubmittedAt: ts,
	}
	b.orders = append(b.orders, o)
	return o, nil
}

func (b *fakeBroker) Cash() float64 { return b.cash }

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func mkBar(i int, open, low float64) model.Bar {
	return model.Bar{Symbol: "HK.00700", TS: day0.AddDate(0, 0, i), Open: open, High: open + 2, Low: low, Close: open + 1}
}

func newTestKDJ(t *testing.T, broker *fakeBroker, k, d, j []float64) (*KDJStrategy, KDJLines) {
	t.Helper()
	sz, err := sizer.NewFixedFraction(0.2)
	if err != nil {
		t.Fatal(err)
	}
	lines := KDJLines{
		K: series.FromValues("K", k...),
		D: series.FromValues("D", d...),
		J: series.FromValues("J", j...),
	}
	return NewKDJStrategy("HK.00700", lines, broker, sz, DefaultKDJParams(), nil), lines
}

func fillFor(o *model.Order, price float64, size int64) model.Fill {
	return model.Fill{OrderID: o.ID, Side: o.Side, Size: size, Price: price, Value: price * float64(size)}
}

func TestKDJ_EntryScenario(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	// gap_prev = 60-50 = 10, gap_cur = 64-60 = 4: ratio 0.4 < 0.5 and 4 < 5.
	s, lines := newTestKDJ(t, broker, []float64{50, 60}, []float64{60, 64}, []float64{40, 52})

	s.Evaluate(mkBar(1, 100, 98))
	st := s.State()
	if !st.BuyFlag || !st.PredictCross {
		t.Fatalf("expected buyFlag and predictCross after evaluation, got %+v", st)
	}
	if st.Phase() != PhasePendingEntry {
		t.Errorf("phase = %s, want PENDING_ENTRY", st.Phase())
	}

	prev := mkBar(1, 100, 98)
	sig, err := s.Execute(context.Background(), mkBar(2, 100, 99), &prev)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sig == nil || sig.Action != ActionBuy {
		t.Fatalf("expected a buy intent, got %+v", sig)
	}
	if sig.Size != 100 {
		t.Errorf("size = %d, want 100 (0.2*50000/100)", sig.Size)
	}
	st = s.State()
	if st.BuyFlag {
		t.Error("buyFlag must be cleared by execution")
	}
	if st.Position != Flat || !st.Pending() {
		t.Fatalf("expected FLAT with a pending order before the fill, got %+v", st)
	}

	s.OnFilled(broker.orders[0], fillFor(broker.orders[0], 100, 100))
	st = s.State()
	if st.Position != Long || st.Pending() || st.Units != 100 {
		t.Fatalf("expected LONG 100 units after fill, got %+v", st)
	}

	// Next evaluation consumes predictCross; J rose so no exit.
	lines.K.Append(63)
	lines.D.Append(64.5)
	lines.J.Append(60)
	s.Evaluate(mkBar(2, 100, 99))
	st = s.State()
	if st.PredictCross || st.SellFlag {
		t.Errorf("expected predictCross cleared and no sell, got %+v", st)
	}
}

func TestKDJ_PredictedCrossFailureSells(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, lines := newTestKDJ(t, broker, []float64{50, 60}, []float64{60, 64}, []float64{40, 52})

	s.Evaluate(mkBar(1, 100, 98))
	prev := mkBar(1, 100, 98)
	if _, err := s.Execute(context.Background(), mkBar(2, 100, 99), &prev); err != nil {
		t.Fatal(err)
	}
	s.OnFilled(broker.orders[0], fillFor(broker.orders[0], 100, 100))

	lines.K.Append(61)
	lines.D.Append(64)
	lines.J.Append(52) // J[0] <= J[-1]
	s.Evaluate(mkBar(2, 100, 99))
	if !s.State().SellFlag {
		t.Fatal("expected sellFlag when J fails to rise after a predicted cross")
	}
	if s.State().Phase() != PhasePendingExit {
		t.Errorf("phase = %s, want PENDING_EXIT", s.State().Phase())
	}

	prev = mkBar(2, 100, 99)
	sig, err := s.Execute(context.Background(), mkBar(3, 90, 95), &prev)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Action != ActionClose {
		t.Fatalf("expected a close intent regardless of the gap, got %+v", sig)
	}

	s.OnFilled(broker.orders[1], fillFor(broker.orders[1], 90, 100))
	st := s.State()
	if st.Position != Flat || st.HighestJ != 1 || st.Units != 0 {
		t.Errorf("expected FLAT with HighestJ reset, got %+v", st)
	}
}

func TestKDJ_GapFilterDiscardsEntry(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, _ := newTestKDJ(t, broker, []float64{50, 60}, []float64{60, 64}, []float64{40, 52})

	s.Evaluate(mkBar(1, 100, 98))
	prev := mkBar(1, 100, 98)
	sig, err := s.Execute(context.Background(), mkBar(2, 97, 96), &prev) // open 97 <= low 98
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil || len(broker.orders) != 0 {
		t.Fatalf("expected no order through a downside gap, got %+v", sig)
	}
	if s.State().BuyFlag {
		t.Error("a missed entry must not be re-armed")
	}

	// Without a previous bar the gap filter cannot pass either.
	s.state.BuyFlag = true
	if sig, _ := s.Execute(context.Background(), mkBar(0, 100, 99), nil); sig != nil {
		t.Errorf("expected no entry on the first bar, got %+v", sig)
	}
}

func TestKDJ_NoEntryWhenGapNotConverging(t *testing.T) {
	cases := []struct {
		name string
		k, d []float64
	}{
		{"ratio too high", []float64{50, 54}, []float64{60, 60}},   // 6/10
		{"gap too wide", []float64{20, 40}, []float64{40, 46}},     // 6/20 but 6 >= 5
		{"K above D", []float64{60, 62}, []float64{55, 60}},        // negative gaps
		{"undefined prior", []float64{series.Undefined, 60}, []float64{60, 64}},
	}
	for _, c := range cases {
		s, _ := newTestKDJ(t, &fakeBroker{cash: 50000}, c.k, c.d, []float64{40, 50})
		s.Evaluate(mkBar(1, 100, 98))
		if s.State().BuyFlag {
			t.Errorf("%s: unexpected buyFlag", c.name)
		}
	}
}

func longKDJ(t *testing.T, j ...float64) *KDJStrategy {
	t.Helper()
	s, _ := newTestKDJ(t, &fakeBroker{cash: 50000}, nil, nil, j)
	s.state.Position = Long
	return s
}

func TestKDJ_OverboughtExits(t *testing.T) {
	cases := []struct {
		name string
		j    []float64
		sell bool
	}{
		{"sharp drop", []float64{105, 102, 90.5}, true},           // d1 = -11.3%
		{"two moderate drops", []float64{110, 103, 96}, true},     // d2 = -6.4%, d1 = -6.8%
		{"one moderate drop", []float64{100, 101, 95}, false},     // d1 = -5.9%, d2 > 0
		{"small drop", []float64{100, 95, 91}, false},             // d1 = -4.2%
		{"below overbought", []float64{95, 92, 80}, false},        // d1 = -13% but J[0] < 90
		{"zero denominator", []float64{0, 0, 95}, false},          // ratios skipped
		{"rising", []float64{80, 90, 99}, false},
	}
	for _, c := range cases {
		s := longKDJ(t, c.j...)
		s.Evaluate(mkBar(5, 100, 98))
		if got := s.State().SellFlag; got != c.sell {
			t.Errorf("%s: sellFlag = %v, want %v", c.name, got, c.sell)
		}
	}
}

func TestKDJ_HighestJTracksWhileLong(t *testing.T) {
	s := longKDJ(t, 40, 70)
	s.Evaluate(mkBar(1, 100, 98))
	if got := s.State().HighestJ; got != 70 {
		t.Errorf("HighestJ = %v, want 70", got)
	}
	s.lines.J.Append(50)
	s.Evaluate(mkBar(2, 100, 98))
	if got := s.State().HighestJ; got != 70 {
		t.Errorf("HighestJ = %v, want 70 after a lower J", got)
	}
}

func TestKDJ_PendingOrderSuspendsEvaluationAndExecution(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, _ := newTestKDJ(t, broker, []float64{50, 60}, []float64{60, 64}, []float64{40, 52})
	s.state.PendingOrder = &model.Order{ID: "x", Side: model.SideBuy, Status: model.StatusSubmitted}

	s.Evaluate(mkBar(1, 100, 98))
	if s.State().BuyFlag {
		t.Error("evaluation must be skipped while an order is pending")
	}

	s.state.SellFlag = true
	s.state.Position = Long
	prev := mkBar(1, 100, 98)
	if sig, _ := s.Execute(context.Background(), mkBar(2, 100, 99), &prev); sig != nil {
		t.Errorf("execution must not submit while an order is pending, got %+v", sig)
	}
	if len(broker.orders) != 0 {
		t.Errorf("expected no submissions, got %d", len(broker.orders))
	}
}

func TestKDJ_SellFlagWhileFlatIsConsumed(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, _ := newTestKDJ(t, broker, nil, nil, nil)
	s.state.SellFlag = true
	sig, err := s.Execute(context.Background(), mkBar(1, 100, 99), nil)
	if err != nil || sig != nil {
		t.Fatalf("expected no-op, got %+v, %v", sig, err)
	}
	if s.State().SellFlag || len(broker.orders) != 0 {
		t.Error("sell flag while flat must be consumed without an order")
	}
}

func TestKDJ_BuyAndSellFlagsSameBarSubmitOnce(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, _ := newTestKDJ(t, broker, nil, nil, nil)
	s.state.BuyFlag = true
	s.state.SellFlag = true
	prev := mkBar(0, 100, 98)
	sig, err := s.Execute(context.Background(), mkBar(1, 100, 99), &prev)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Action != ActionBuy || len(broker.orders) != 1 {
		t.Fatalf("expected exactly one buy, got %+v (%d orders)", sig, len(broker.orders))
	}
	if st := s.State(); st.BuyFlag || st.SellFlag {
		t.Errorf("both flags must be consumed, got %+v", st)
	}
}

func TestKDJ_ZeroSizeSkipsOrder(t *testing.T) {
	broker := &fakeBroker{cash: 0}
	s, _ := newTestKDJ(t, broker, nil, nil, nil)
	s.state.BuyFlag = true
	prev := mkBar(0, 100, 98)
	if sig, _ := s.Execute(context.Background(), mkBar(1, 100, 99), &prev); sig != nil {
		t.Errorf("expected no order with zero cash, got %+v", sig)
	}
}

func TestKDJ_SubmitErrorIsReturned(t *testing.T) {
	broker := &fakeBroker{cash: 50000, err: errors.New("broker down")}
	s, _ := newTestKDJ(t, broker, nil, nil, nil)
	s.state.BuyFlag = true
	prev := mkBar(0, 100, 98)
	if _, err := s.Execute(context.Background(), mkBar(1, 100, 99), &prev); err == nil {
		t.Fatal("expected submit error")
	}
	if s.State().Pending() {
		t.Error("no order should be pending after a failed submit")
	}
}

func TestKDJ_CancelAndUnknownNotifications(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	s, _ := newTestKDJ(t, broker, nil, nil, nil)
	s.state.BuyFlag = true
	prev := mkBar(0, 100, 98)
	if _, err := s.Execute(context.Background(), mkBar(1, 100, 99), &prev); err != nil {
		t.Fatal(err)
	}

	s.OnFilled(&model.Order{ID: "other", Side: model.SideBuy}, model.Fill{Size: 5})
	if !s.State().Pending() || s.State().Position != Flat {
		t.Fatal("a fill for an unknown order must be ignored")
	}

	s.OnCancelled(broker.orders[0])
	st := s.State()
	if st.Pending() || st.Position != Flat {
		t.Errorf("expected FLAT and no pending order after cancel, got %+v", st)
	}
}

func TestNewState(t *testing.T) {
	st := NewState()
	if st.Position != Flat || st.HighestJ != 1 || st.BuyFlag || st.SellFlag || st.PredictCross || st.Pending() {
		t.Errorf("unexpected start state %+v", st)
	}
	if st.Phase() != PhaseFlat {
		t.Errorf("phase = %s", st.Phase())
	}
	if Long.String() != "LONG" || Flat.String() != "FLAT" {
		t.Error("unexpected position names")
	}
}

func TestMACD_CrossRules(t *testing.T) {
	broker := &fakeBroker{cash: 50000}
	sz, _ := sizer.NewFixedFraction(0.2)
	m := indicator.NewMACD(indicator.DefaultMACDConfig())
	s := NewMACDStrategy("HK.00700", m, broker, sz, nil)

	// Cross up while MACD > 0.
	m.Line.Append(0.5)
	m.Signal.Append(0.8)
	m.Line.Append(1.2)
	m.Signal.Append(0.9)
	s.Evaluate(mkBar(1, 100, 98))
	if !s.State().BuyFlag {
		t.Fatal("expected buy flag on an upward cross above zero")
	}
	prev := mkBar(1, 100, 98)
	sig, err := s.Execute(context.Background(), mkBar(2, 50, 40), &prev) // no gap filter
	if err != nil || sig == nil || sig.Action != ActionBuy {
		t.Fatalf("expected buy, got %+v, %v", sig, err)
	}
	s.OnFilled(broker.orders[0], fillFor(broker.orders[0], 50, sig.Size))

	// Cross down while MACD > 0 does not exit.
	m.Line.Append(0.7)
	m.Signal.Append(0.95)
	s.Evaluate(mkBar(3, 100, 98))
	if s.State().SellFlag {
		t.Fatal("cross down above zero must not exit")
	}

	// Cross down while MACD < 0 exits.
	m.Line.Append(1.0)
	m.Signal.Append(0.9)
	m.Line.Append(-0.2)
	m.Signal.Append(0.1)
	s.Evaluate(mkBar(5, 100, 98))
	if !s.State().SellFlag {
		t.Fatal("expected sell flag on a downward cross below zero")
	}
}

func TestState_PhaseOnReturnedValue(t *testing.T) {
	st := func(s State) State { return s }
	if got := st(NewState()).Phase(); got != PhaseFlat {
		t.Errorf("phase = %s, want FLAT", got)
	}
	buy := &model.Order{Side: model.SideBuy}
	if got := st(State{PendingOrder: buy}).Phase(); got != PhasePendingEntry {
		t.Errorf("phase = %s, want PENDING_ENTRY", got)
	}
	closing := State{Position: Long, PendingOrder: &model.Order{Side: model.SideClose}}
	if !st(closing).Pending() || st(closing).Phase() != PhasePendingExit {
		t.Errorf("phase = %s, want PENDING_EXIT", st(closing).Phase())
	}
	if got := st(State{Position: Long}).Phase(); got != PhaseLong {
		t.Errorf("phase = %s, want LONG", got)
	}
}
