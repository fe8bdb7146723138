package model

import "time"

// Side is the direction of an order as the decision core sees it.
type Side string

const (
	SideBuy   Side = "BUY"
	SideClose Side = "CLOSE" // liquidate the whole long position
)

// OrderStatus tracks the broker-side lifecycle of an order.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order is a handle to an order owned by the broker.
type Order struct {
	ID          string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Size        int64       `json:"size"` // requested units; for CLOSE the position size at submit time
	Status      OrderStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"` // timestamp of the bar the order was submitted on
}

// IsPending reports whether the order is still waiting for a fill or cancel.
func (o *Order) IsPending() bool {
	return o != nil && o.Status == StatusSubmitted
}

// Fill is the realized execution of an order.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       int64     `json:"size"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"` // price * size
	Commission float64   `json:"commission"`
	FilledAt   time.Time `json:"filled_at"` // timestamp of the bar whose open filled the order
}
