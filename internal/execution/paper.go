// Package execution simulates order execution for backtests and persists
// the resulting fills.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

// Cancel reasons reported on cancelled orders.
const (
	ReasonMargin     = "margin"
	ReasonNoPosition = "no position"
	ReasonEndOfData  = "end of data"
)

// ErrInvalidSize is returned by SubmitBuy for a non-positive size.
var ErrInvalidSize = errors.New("execution: order size must be positive")

// PaperConfig holds the simulation parameters.
type PaperConfig struct {
	Cash           float64
	CommissionPerc float64 // fraction of traded value, e.g. 0.0003
	FillDelay      int     // bars between submit and fill; 0 fills at the submit bar's open
	CancelAtEnd    bool    // cancel orders still pending when End is called
}

// DefaultPaperConfig returns 50000 cash, 0.03% commission and same-bar fills.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{Cash: 50000, CommissionPerc: 0.0003, CancelAtEnd: true}
}

type holding struct {
	units      int64
	entryPrice decimal.Decimal
	entryComm  decimal.Decimal
	openedAt   time.Time
	openedBar  int
}

type pendingOrder struct {
	order *model.Order
	due   int // index of the bar whose open fills the order
}

// PaperBroker is a simulated broker. Orders are queued on submit and
// settled at the open of the bar they fall due on, so callbacks never run
// from inside SubmitBuy or SubmitClose.
//
// A PaperBroker is safe for concurrent use, but listener callbacks are
// invoked with no lock held from the goroutine calling Settle or End.
type PaperBroker struct {
	mu         sync.Mutex
	cfg        PaperConfig
	cash       decimal.Decimal
	commission decimal.Decimal
	bars       int // bars settled so far
	holdings   map[string]*holding
	marks      map[string]decimal.Decimal
	pending    []pendingOrder
	fills      []model.Fill
	trades     []model.Trade

	listener strategy.OrderListener
	recorder model.FillRecorder
}

// NewPaperBroker validates cfg and creates a broker holding cfg.Cash.
func NewPaperBroker(cfg PaperConfig) (*PaperBroker, error) {
	if cfg.Cash < 0 {
		return nil, fmt.Errorf("execution: negative cash %v", cfg.Cash)
	}
	if cfg.CommissionPerc < 0 {
		return nil, fmt.Errorf("execution: negative commission %v", cfg.CommissionPerc)
	}
	if cfg.FillDelay < 0 {
		return nil, fmt.Errorf("execution: negative fill delay %d", cfg.FillDelay)
	}
	return &PaperBroker{
		cfg:        cfg,
		cash:       decimal.NewFromFloat(cfg.Cash),
		commission: decimal.NewFromFloat(cfg.CommissionPerc),
		holdings:   make(map[string]*holding),
		marks:      make(map[string]decimal.Decimal),
	}, nil
}

// SetListener registers the receiver of fill and cancel notifications.
func (p *PaperBroker) SetListener(l strategy.OrderListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// SetRecorder registers a sink that persists every fill.
func (p *PaperBroker) SetRecorder(r model.FillRecorder) {
	p.mu.Lock()
	p.recorder = r
	p.mu.Unlock()
}

// SubmitBuy queues a market buy of size units.
func (p *PaperBroker) SubmitBuy(ctx context.Context, symbol string, size int64, ts time.Time) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return p.enqueue(symbol, model.SideBuy, size, ts), nil
}

// SubmitClose queues a market sell of the whole position in symbol.
func (p *PaperBroker) SubmitClose(ctx context.Context, symbol string, ts time.Time) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	var units int64
	if h := p.holdings[symbol]; h != nil {
		units = h.units
	}
	p.mu.Unlock()
	return p.enqueue(symbol, model.SideClose, units, ts), nil
}

func (p *PaperBroker) enqueue(symbol string, side model.Side, size int64, ts time.Time) *model.Order {
	o := &model.Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Size:        size,
		Status:      model.StatusSubmitted,
		SubmittedAt: ts,
	}
	p.mu.Lock()
	p.pending = append(p.pending, pendingOrder{order: o, due: p.bars + p.cfg.FillDelay})
	p.mu.Unlock()
	return o
}

type event struct {
	order *model.Order
	fill  *model.Fill
}

// Settle processes the orders due at bar's open, then counts the bar.
// Listener callbacks run after the broker state is updated. The returned
// error comes from the fill recorder; the fills themselves still stand.
func (p *PaperBroker) Settle(ctx context.Context, bar model.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	var events []event
	keep := p.pending[:0]
	for _, po := range p.pending {
		if po.due > p.bars || po.order.Symbol != bar.Symbol {
			keep = append(keep, po)
			continue
		}
		events = append(events, p.settleLocked(po.order, bar))
	}
	p.pending = keep
	p.marks[bar.Symbol] = decimal.NewFromFloat(bar.Open)
	p.bars++
	listener, recorder := p.listener, p.recorder
	p.mu.Unlock()

	return p.dispatch(events, listener, recorder)
}

func (p *PaperBroker) settleLocked(o *model.Order, bar model.Bar) event {
	price := decimal.NewFromFloat(bar.Open)
	switch o.Side {
	case model.SideBuy:
		value := price.Mul(decimal.NewFromInt(o.Size))
		comm := value.Mul(p.commission)
		if value.Add(comm).GreaterThan(p.cash) {
			return p.cancelLocked(o, ReasonMargin)
		}
		p.cash = p.cash.Sub(value).Sub(comm)
		h := p.holdings[o.Symbol]
		if h == nil {
			h = &holding{openedAt: bar.TS, openedBar: p.bars}
			p.holdings[o.Symbol] = h
		}
		// Average in when adding to an existing position.
		total := decimal.NewFromInt(h.units + o.Size)
		h.entryPrice = h.entryPrice.Mul(decimal.NewFromInt(h.units)).Add(value).Div(total)
		h.entryComm = h.entryComm.Add(comm)
		h.units += o.Size
		return p.fillLocked(o, bar, price, value, comm)

	default:
		h := p.holdings[o.Symbol]
		if h == nil || h.units == 0 {
			return p.cancelLocked(o, ReasonNoPosition)
		}
		o.Size = h.units
		size := decimal.NewFromInt(h.units)
		value := price.Mul(size)
		comm := value.Mul(p.commission)
		p.cash = p.cash.Add(value).Sub(comm)

		pnl := price.Sub(h.entryPrice).Mul(size)
		p.trades = append(p.trades, model.Trade{
			Symbol:     o.Symbol,
			Size:       h.units,
			EntryPrice: h.entryPrice.InexactFloat64(),
			ExitPrice:  bar.Open,
			OpenedAt:   h.openedAt,
			ClosedAt:   bar.TS,
			PnL:        pnl.InexactFloat64(),
			PnLNet:     pnl.Sub(h.entryComm).Sub(comm).InexactFloat64(),
			Commission: h.entryComm.Add(comm).InexactFloat64(),
			Bars:       p.bars - h.openedBar,
		})
		delete(p.holdings, o.Symbol)
		return p.fillLocked(o, bar, price, value, comm)
	}
}

func (p *PaperBroker) fillLocked(o *model.Order, bar model.Bar, price, value, comm decimal.Decimal) event {
	o.Status = model.StatusFilled
	f := model.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Size:       o.Size,
		Price:      price.InexactFloat64(),
		Value:      value.InexactFloat64(),
		Commission: comm.InexactFloat64(),
		FilledAt:   bar.TS,
	}
	p.fills = append(p.fills, f)
	return event{order: o, fill: &f}
}

func (p *PaperBroker) cancelLocked(o *model.Order, reason string) event {
	o.Status = model.StatusCancelled
	o.Reason = reason
	return event{order: o}
}

func (p *PaperBroker) dispatch(events []event, listener strategy.OrderListener, recorder model.FillRecorder) error {
	var errs []error
	for _, ev := range events {
		if ev.fill == nil {
			log.Printf("[paper] %s %s size=%d cancelled: %s order=%s",
				ev.order.Side, ev.order.Symbol, ev.order.Size, ev.order.Reason, ev.order.ID)
			if listener != nil {
				listener.OnCancelled(ev.order)
			}
			continue
		}
		f := *ev.fill
		log.Printf("[paper] %s %s size=%d price=%.2f value=%.2f comm=%.2f order=%s",
			f.Side, f.Symbol, f.Size, f.Price, f.Value, f.Commission, f.OrderID)
		if recorder != nil {
			if err := recorder.RecordFill(f); err != nil {
				errs = append(errs, fmt.Errorf("record fill %s: %w", f.OrderID, err))
			}
		}
		if listener != nil {
			listener.OnFilled(ev.order, f)
		}
	}
	return errors.Join(errs...)
}

// End finishes the run. With CancelAtEnd set every order still pending is
// cancelled and reported; otherwise pending orders are left untouched.
func (p *PaperBroker) End(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	var events []event
	if p.cfg.CancelAtEnd {
		for _, po := range p.pending {
			events = append(events, p.cancelLocked(po.order, ReasonEndOfData))
		}
		p.pending = nil
	}
	listener, recorder := p.listener, p.recorder
	p.mu.Unlock()
	return p.dispatch(events, listener, recorder)
}

// MarkToMarket records bar's close as the mark price for its symbol and
// returns the portfolio value.
func (p *PaperBroker) MarkToMarket(bar model.Bar) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[bar.Symbol] = decimal.NewFromFloat(bar.Close)
	return p.valueLocked().InexactFloat64()
}

// Cash returns the free cash.
func (p *PaperBroker) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash.InexactFloat64()
}

// Value returns cash plus the holdings at their last mark price.
func (p *PaperBroker) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueLocked().InexactFloat64()
}

func (p *PaperBroker) valueLocked() decimal.Decimal {
	v := p.cash
	for sym, h := range p.holdings {
		v = v.Add(p.marks[sym].Mul(decimal.NewFromInt(h.units)))
	}
	return v
}

// Position returns the units held in symbol.
func (p *PaperBroker) Position(symbol string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.holdings[symbol]; h != nil {
		return h.units
	}
	return 0
}

// PendingCount returns the number of queued orders.
func (p *PaperBroker) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Fills returns a snapshot of all fills.
func (p *PaperBroker) Fills() []model.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Trades returns a snapshot of all closed round trips.
func (p *PaperBroker) Trades() []model.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]model.Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

var _ strategy.Broker = (*PaperBroker)(nil)
