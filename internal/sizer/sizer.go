// Package sizer converts available cash and a fixed risk fraction into an
// order quantity.
package sizer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Sizer maps cash and price to a whole-unit order size.
type Sizer interface {
	Size(cash, price float64) int64
}

// Size returns floor(fraction * cash / price) units.
// It fails closed: a non-positive price, cash or fraction yields 0.
// Arithmetic is done in decimal so the notional never exceeds fraction*cash
// through float rounding.
func Size(cash, fraction, price float64) int64 {
	if price <= 0 || cash <= 0 || fraction <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(fraction).Mul(decimal.NewFromFloat(cash))
	units := budget.Div(decimal.NewFromFloat(price)).Floor()

	// Guard the invariant against Div's rounding at its precision limit.
	p := decimal.NewFromFloat(price)
	for units.IsPositive() && units.Mul(p).GreaterThan(budget) {
		units = units.Sub(decimal.NewFromInt(1))
	}
	return units.IntPart()
}

// FixedFraction sizes every order with the same fraction of available cash.
// The fraction is set once at construction.
type FixedFraction struct {
	fraction float64
}

// NewFixedFraction creates a sizer using fraction of cash per order.
// fraction must be in (0, 1].
func NewFixedFraction(fraction float64) (*FixedFraction, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("sizer: fraction %.4f out of range (0, 1]", fraction)
	}
	return &FixedFraction{fraction: fraction}, nil
}

// Fraction returns the configured fraction of cash.
func (f *FixedFraction) Fraction() float64 { return f.fraction }

func (f *FixedFraction) Size(cash, price float64) int64 {
	return Size(cash, f.fraction, price)
}
