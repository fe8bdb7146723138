package strategy

import (
	"log/slog"
	"math"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
	"kdjtrader/internal/sizer"
)

// KDJLines are the indicator lines the KDJ strategy reads.
type KDJLines struct {
	K *series.Series
	D *series.Series
	J *series.Series
}

// LinesOf returns the K, D and J lines of a KDJ indicator.
func LinesOf(k *indicator.KDJ) KDJLines {
	return KDJLines{K: k.K, D: k.D, J: k.J}
}

// KDJParams are the decision thresholds.
type KDJParams struct {
	MaxGapRatio  float64 // gap_cur/gap_prev below this is a convergence
	MaxGap       float64 // gap_cur must also be below this
	Overbought   float64 // J level gating the exit rules
	SharpDrop    float64 // single-bar relative J drop that exits
	ModerateDrop float64 // two consecutive relative J drops that exit
}

// DefaultKDJParams returns the thresholds 0.5 / 5 / 90 / -10% / -5%.
func DefaultKDJParams() KDJParams {
	return KDJParams{
		MaxGapRatio:  0.5,
		MaxGap:       5,
		Overbought:   90,
		SharpDrop:    -0.10,
		ModerateDrop: -0.05,
	}
}

// KDJStrategy enters when the D-K gap, with D above K, more than halves
// between bars and is already tight (an anticipated bullish cross), and
// exits on a J reversal from the overbought region, or on the bar after entry
// when the anticipated cross fails to lift J.
type KDJStrategy struct {
	core
	lines  KDJLines
	params KDJParams
}

// NewKDJStrategy creates the KDJ strategy reading lines for symbol.
func NewKDJStrategy(symbol string, lines KDJLines, broker Broker, sz sizer.Sizer, params KDJParams, logger *slog.Logger) *KDJStrategy {
	s := &KDJStrategy{
		core:   newCore("KDJ_Convergence", symbol, broker, sz, logger),
		lines:  lines,
		params: params,
	}
	s.gapFilter = true
	return s
}

// Evaluate is the evaluation phase; it is skipped while an order is pending.
func (s *KDJStrategy) Evaluate(_ model.Bar) {
	if s.state.Pending() {
		return
	}

	j0, okJ0 := s.lines.J.At(0)
	j1, okJ1 := s.lines.J.At(-1)

	if s.state.PredictCross {
		if okJ0 && okJ1 && j0 <= j1 {
			s.raiseSell("predicted cross failed: J did not rise")
		}
		s.state.PredictCross = false
	}

	switch s.state.Position {
	case Flat:
		gapPrev, ok1 := s.gap(-1)
		gapCur, ok2 := s.gap(0)
		if !ok1 || !ok2 {
			return
		}
		if gapCur > 0 && gapPrev > 0 && gapCur/gapPrev < s.params.MaxGapRatio && gapCur < s.params.MaxGap {
			s.raiseBuy("K/D gap converging")
			s.state.PredictCross = true
		}

	case Long:
		if !okJ0 {
			return
		}
		s.state.HighestJ = math.Max(s.state.HighestJ, j0)
		if j0 < s.params.Overbought {
			return
		}
		d1, ok1 := relChange(j0, j1, okJ1)
		if ok1 && d1 < s.params.SharpDrop {
			s.raiseSell("sharp J drop from overbought")
			return
		}
		j2, okJ2 := s.lines.J.At(-2)
		d2, ok2 := relChange(j1, j2, okJ1 && okJ2)
		if ok1 && ok2 && d1 < s.params.ModerateDrop && d2 < s.params.ModerateDrop {
			s.raiseSell("two J drops from overbought")
		}
	}
}

// gap returns D - K at offset.
func (s *KDJStrategy) gap(offset int) (float64, bool) {
	d, ok1 := s.lines.D.At(offset)
	k, ok2 := s.lines.K.At(offset)
	return d - k, ok1 && ok2
}

// relChange returns (cur-prev)/prev; a zero denominator yields no value.
func relChange(cur, prev float64, ok bool) (float64, bool) {
	if !ok || prev == 0 {
		return 0, false
	}
	return (cur - prev) / prev, true
}
