// Package strategy provides the bar-by-bar trading decision core.
//
// A Strategy follows a two-phase protocol per bar: Evaluate runs on the
// bar's close-based indicator values and may raise buy/sell flags; Execute
// runs at the next bar's open and turns raised flags into broker orders.
// The broker later reports fills and cancellations through OnFilled and
// OnCancelled. At most one order is pending per instrument at any time.
package strategy

import (
	"context"
	"time"

	"kdjtrader/internal/model"
)

// Action represents a trading intent.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionClose Action = "CLOSE"
)

// Signal is a trading intent emitted when a strategy submits an order.
type Signal struct {
	StrategyName string    `json:"strategy_name"`
	Action       Action    `json:"action"`
	Symbol       string    `json:"symbol"`
	OrderID      string    `json:"order_id"`
	Size         int64     `json:"size"`
	Price        float64   `json:"price"` // reference price (the bar open)
	TS           time.Time `json:"ts"`
	Reason       string    `json:"reason"`
}

// Broker is the order-execution collaborator. Implementations must not
// invoke the OrderListener callbacks from inside SubmitBuy/SubmitClose.
type Broker interface {
	SubmitBuy(ctx context.Context, symbol string, size int64, ts time.Time) (*model.Order, error)
	SubmitClose(ctx context.Context, symbol string, ts time.Time) (*model.Order, error)
	Cash() float64
}

// OrderListener receives the broker's order lifecycle notifications.
type OrderListener interface {
	OnFilled(order *model.Order, fill model.Fill)
	OnCancelled(order *model.Order)
}

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	OrderListener

	// Name returns the unique name of the strategy.
	Name() string

	// Execute is the execution phase, run at bar's open. prev is the
	// previous bar, nil on the first bar. Returns the submitted intent, if any.
	Execute(ctx context.Context, bar model.Bar, prev *model.Bar) (*Signal, error)

	// Evaluate is the evaluation phase, run after the indicators have
	// ingested bar.
	Evaluate(bar model.Bar)

	// State returns a copy of the current decision state.
	State() State
}

var (
	_ Strategy = (*KDJStrategy)(nil)
	_ Strategy = (*MACDStrategy)(nil)
)
