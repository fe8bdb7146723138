package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"kdjtrader/internal/model"
	"kdjtrader/internal/sizer"
)

// core holds what every strategy shares: the decision record, the broker
// and sizer collaborators, and the execution phase.
type core struct {
	name   string
	symbol string
	broker Broker
	sizer  sizer.Sizer
	logger *slog.Logger

	// gapFilter requires open > previous low before acting on a buy flag.
	gapFilter bool

	state      State
	buyReason  string
	sellReason string
}

func newCore(name, symbol string, broker Broker, sz sizer.Sizer, logger *slog.Logger) core {
	if logger == nil {
		logger = slog.Default()
	}
	return core{
		name:   name,
		symbol: symbol,
		broker: broker,
		sizer:  sz,
		logger: logger.With(slog.String("strategy", name), slog.String("symbol", symbol)),
		state:  NewState(),
	}
}

func (c *core) Name() string { return c.name }

func (c *core) State() State { return c.state }

func (c *core) raiseBuy(reason string) {
	c.state.BuyFlag = true
	c.buyReason = reason
}

func (c *core) raiseSell(reason string) {
	c.state.SellFlag = true
	c.sellReason = reason
}

// Execute turns raised flags into at most one order. Both flags are
// consumed whether or not an order results; a skipped entry is not retried.
func (c *core) Execute(ctx context.Context, bar model.Bar, prev *model.Bar) (*Signal, error) {
	if c.state.Pending() {
		return nil, nil
	}

	var sig *Signal
	if c.state.BuyFlag {
		c.state.BuyFlag = false
		s, err := c.executeBuy(ctx, bar, prev)
		if err != nil {
			c.state.SellFlag = false
			return nil, err
		}
		sig = s
	}

	if c.state.SellFlag {
		c.state.SellFlag = false
		if sig == nil {
			s, err := c.executeClose(ctx, bar)
			if err != nil {
				return nil, err
			}
			sig = s
		}
	}
	return sig, nil
}

func (c *core) executeBuy(ctx context.Context, bar model.Bar, prev *model.Bar) (*Signal, error) {
	if c.state.Position != Flat {
		return nil, nil
	}
	if c.gapFilter && (prev == nil || bar.Open <= prev.Low) {
		c.logger.Debug("buy flag dropped by gap filter", slog.Time("ts", bar.TS), slog.Float64("open", bar.Open))
		return nil, nil
	}

	size := c.sizer.Size(c.broker.Cash(), bar.Open)
	if size <= 0 {
		c.logger.Debug("buy flag dropped: zero size", slog.Float64("cash", c.broker.Cash()), slog.Float64("price", bar.Open))
		return nil, nil
	}

	order, err := c.broker.SubmitBuy(ctx, c.symbol, size, bar.TS)
	if err != nil {
		return nil, fmt.Errorf("%s: submit buy: %w", c.name, err)
	}
	c.state.PendingOrder = order
	return c.signal(ActionBuy, order, bar, c.buyReason), nil
}

func (c *core) executeClose(ctx context.Context, bar model.Bar) (*Signal, error) {
	if c.state.Position != Long {
		return nil, nil
	}
	order, err := c.broker.SubmitClose(ctx, c.symbol, bar.TS)
	if err != nil {
		return nil, fmt.Errorf("%s: submit close: %w", c.name, err)
	}
	c.state.PendingOrder = order
	return c.signal(ActionClose, order, bar, c.sellReason), nil
}

func (c *core) signal(action Action, order *model.Order, bar model.Bar, reason string) *Signal {
	return &Signal{
		StrategyName: c.name,
		Action:       action,
		Symbol:       c.symbol,
		OrderID:      order.ID,
		Size:         order.Size,
		Price:        bar.Open,
		TS:           bar.TS,
		Reason:       reason,
	}
}

// OnFilled clears the pending order and moves the position.
func (c *core) OnFilled(order *model.Order, fill model.Fill) {
	if !c.owns(order) {
		return
	}
	c.state.PendingOrder = nil

	switch order.Side {
	case model.SideBuy:
		c.state.Position = Long
		c.state.Units = fill.Size
		c.logger.Info(fmt.Sprintf("BUY EXECUTED, Price: %.2f, Cost: %.2f, Comm %.2f", fill.Price, fill.Value, fill.Commission),
			slog.String("order_id", order.ID), slog.Time("ts", fill.FilledAt))
	case model.SideClose:
		c.state.Position = Flat
		c.state.Units = 0
		c.state.HighestJ = initialHighestJ
		c.logger.Info(fmt.Sprintf("SELL EXECUTED, Price: %.2f, Cost: %.2f, Comm %.2f", fill.Price, fill.Value, fill.Commission),
			slog.String("order_id", order.ID), slog.Time("ts", fill.FilledAt))
	}
}

// OnCancelled clears the pending order; the position is unchanged.
func (c *core) OnCancelled(order *model.Order) {
	if !c.owns(order) {
		return
	}
	c.state.PendingOrder = nil
	c.logger.Info("order cancelled", slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)), slog.String("reason", order.Reason))
}

func (c *core) owns(order *model.Order) bool {
	if order == nil || c.state.PendingOrder == nil || order.ID != c.state.PendingOrder.ID {
		c.logger.Warn("notification for unknown order ignored")
		return false
	}
	return true
}
