package strategy

import "kdjtrader/internal/model"

// Position is the strategy's view of its holding in the instrument.
type Position int

const (
	Flat Position = iota
	Long
)

func (p Position) String() string {
	if p == Long {
		return "LONG"
	}
	return "FLAT"
}

// Phase names the state machine's states.
type Phase string

const (
	PhaseFlat         Phase = "FLAT"
	PhasePendingEntry Phase = "PENDING_ENTRY"
	PhaseLong         Phase = "LONG"
	PhasePendingExit  Phase = "PENDING_EXIT"
)

// initialHighestJ is the high-water mark of J on start and after flattening.
const initialHighestJ = 1

// State is the single mutable decision record for one instrument.
type State struct {
	Position     Position
	PendingOrder *model.Order
	BuyFlag      bool
	SellFlag     bool
	PredictCross bool
	HighestJ     float64 // high-water mark of J while LONG
	Units        int64   // units held while LONG
}

// NewState returns the start-of-run state: FLAT, no flags, HighestJ = 1.
func NewState() State {
	return State{Position: Flat, HighestJ: initialHighestJ}
}

// Pending reports whether an order is waiting for a fill or cancel.
func (s State) Pending() bool { return s.PendingOrder != nil }

// Phase derives the state machine phase from the record.
func (s State) Phase() Phase {
	switch s.Position {
	case Long:
		if s.SellFlag || (s.Pending() && s.PendingOrder.Side == model.SideClose) {
			return PhasePendingExit
		}
		return PhaseLong
	default:
		if s.BuyFlag || (s.Pending() && s.PendingOrder.Side == model.SideBuy) {
			return PhasePendingEntry
		}
		return PhaseFlat
	}
}
