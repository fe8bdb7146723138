package indicator

import "kdjtrader/internal/series"

// Smoother is the incremental form of the recursive exponential smoother:
//
//	out[first] = alpha*x + (1-alpha)*seed
//	out[i]     = alpha*x + (1-alpha)*out[i-1]
//
// An undefined input carries the previous output forward. Before the first
// defined input the output is undefined.
type Smoother struct {
	alpha   float64
	seed    float64
	seeded  bool
	prev    float64
	started bool
}

// NewSmoother creates a smoother whose seed defaults to the first defined input.
func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: alpha, prev: series.Undefined}
}

// NewSeededSmoother creates a smoother with an explicit seed value.
func NewSeededSmoother(alpha, seed float64) *Smoother {
	return &Smoother{alpha: alpha, seed: seed, seeded: true, prev: series.Undefined}
}

// Next consumes one input and returns the smoothed output for it.
func (s *Smoother) Next(x float64) float64 {
	if !series.IsDefined(x) {
		return s.prev
	}
	base := s.prev
	if !s.started {
		base = x
		if s.seeded {
			base = s.seed
		}
		s.started = true
	}
	s.prev = s.alpha*x + (1-s.alpha)*base
	return s.prev
}

// Value returns the last output (undefined until the first defined input).
func (s *Smoother) Value() float64 { return s.prev }

// Started reports whether a defined input has been seen.
func (s *Smoother) Started() bool { return s.started }

// Reset clears the recursive state, keeping alpha and seed.
func (s *Smoother) Reset() {
	s.prev = series.Undefined
	s.started = false
}

// Smooth recomputes the whole smoothed series for src with an explicit seed.
func Smooth(src []float64, alpha, seed float64) []float64 {
	return smoothAll(NewSeededSmoother(alpha, seed), src)
}

// smoothFromFirst is Smooth with the seed taken from the first defined input.
func smoothFromFirst(src []float64, alpha float64) []float64 {
	return smoothAll(NewSmoother(alpha), src)
}

func smoothAll(s *Smoother, src []float64) []float64 {
	out := make([]float64, len(src))
	for i, x := range src {
		out[i] = s.Next(x)
	}
	return out
}
