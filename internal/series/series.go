// Package series provides the append-only, offset-addressed value sequence
// that indicators produce and the strategy reads.
//
// A Series holds one value per bar. Values are addressed relative to the
// current replay position: At(0) is the current bar, At(-1) the previous bar,
// and so on. Indices for which no value can be computed hold Undefined.
package series

import "math"

// Undefined marks an index where a value could not be computed.
var Undefined = math.NaN()

// IsDefined reports whether v is a real value rather than the Undefined marker.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// Series is an append-only, index-aligned sequence of float64 values.
// The zero value is an empty series ready for use.
type Series struct {
	name   string
	values []float64
}

// New creates an empty named series with room for capacity values.
func New(name string, capacity int) *Series {
	return &Series{name: name, values: make([]float64, 0, capacity)}
}

// FromValues builds a series from values; NaN entries are Undefined.
func FromValues(name string, values ...float64) *Series {
	s := New(name, len(values))
	s.values = append(s.values, values...)
	return s
}

// Name returns the series name (e.g. "K", "MACD_signal").
func (s *Series) Name() string { return s.name }

// Len returns the number of values appended so far.
func (s *Series) Len() int { return len(s.values) }

// Append adds the value for the next bar.
func (s *Series) Append(v float64) {
	s.values = append(s.values, v)
}

// AppendUndefined adds an Undefined value for the next bar.
func (s *Series) AppendUndefined() {
	s.values = append(s.values, Undefined)
}

// At returns the value at offset from the current bar (0, -1, -2, ...).
// The second result is false when the offset addresses a bar that does not
// exist yet or the stored value is Undefined.
func (s *Series) At(offset int) (float64, bool) {
	if offset > 0 {
		return Undefined, false
	}
	i := len(s.values) - 1 + offset
	if i < 0 {
		return Undefined, false
	}
	v := s.values[i]
	return v, IsDefined(v)
}

// Get returns At(offset) without the ok flag. Callers must check IsDefined.
func (s *Series) Get(offset int) float64 {
	v, _ := s.At(offset)
	return v
}

// Last is shorthand for At(0).
func (s *Series) Last() (float64, bool) {
	return s.At(0)
}

// Index returns the value at absolute index i, for batch consumers such as
// tests and exporters. Out-of-range indices return Undefined.
func (s *Series) Index(i int) float64 {
	if i < 0 || i >= len(s.values) {
		return Undefined
	}
	return s.values[i]
}

// Values returns a copy of all values.
func (s *Series) Values() []float64 {
	cp := make([]float64, len(s.values))
	copy(cp, s.values)
	return cp
}
