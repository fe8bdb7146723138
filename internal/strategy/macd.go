package strategy

import (
	"log/slog"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/sizer"
)

// MACDStrategy buys when the MACD line crosses above its signal line while
// MACD is positive, and closes when it crosses below while MACD is negative.
// Orders go out at the next bar's open with no gap filter.
type MACDStrategy struct {
	core
	macd *indicator.MACD
}

// NewMACDStrategy creates the MACD crossover strategy for symbol.
func NewMACDStrategy(symbol string, macd *indicator.MACD, broker Broker, sz sizer.Sizer, logger *slog.Logger) *MACDStrategy {
	return &MACDStrategy{
		core: newCore("MACD_Crossover", symbol, broker, sz, logger),
		macd: macd,
	}
}

// Evaluate is the evaluation phase; it is skipped while an order is pending.
func (s *MACDStrategy) Evaluate(_ model.Bar) {
	if s.state.Pending() {
		return
	}
	line, ok := s.macd.Line.At(0)
	if !ok {
		return
	}
	cross := indicator.Cross(s.macd.Line, s.macd.Signal)

	switch s.state.Position {
	case Flat:
		if cross == indicator.CrossUp && line > 0 {
			s.raiseBuy("MACD crossed above signal, MACD > 0")
		}
	case Long:
		if cross == indicator.CrossDown && line < 0 {
			s.raiseSell("MACD crossed below signal, MACD < 0")
		}
	}
}
