package indicator

import (
	"time"

	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// SetConfig specifies which indicators a Set computes.
type SetConfig struct {
	KDJ  KDJConfig
	MACD *MACDConfig // nil disables MACD
	Nine bool        // adds the up and down nine counts
	// JLevels adds one J cross line per threshold, e.g. 90 and 100.
	JLevels []float64
}

// DefaultSetConfig returns the KDJ(9,3,3) + MACD(12,26,9) set.
func DefaultSetConfig() SetConfig {
	macd := DefaultMACDConfig()
	return SetConfig{KDJ: DefaultKDJConfig(), MACD: &macd}
}

// Value is one line's value at one bar, as published to observers.
type Value struct {
	Name   string    `json:"name"` // e.g. "KDJ_9.K", "MACD_12_26_9.MACD_histo"
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Value  float64   `json:"value"`
	Ready  bool      `json:"ready"` // false when the value is undefined
}

// Set holds the live indicator instances for one instrument and feeds them
// bar by bar. It is not safe for concurrent use.
type Set struct {
	symbol string

	KDJ      *KDJ
	MACD     *MACD
	NineUp   *Nine
	NineDown *Nine
	JCross   *JLevels

	indicators []Indicator
	bars       int
}

// NewSet creates the indicator set for symbol.
func NewSet(symbol string, cfg SetConfig) *Set {
	s := &Set{symbol: symbol, KDJ: NewKDJ(cfg.KDJ)}
	s.indicators = append(s.indicators, s.KDJ)
	if len(cfg.JLevels) > 0 {
		s.JCross = NewJLevels(s.KDJ, cfg.JLevels...)
		s.indicators = append(s.indicators, s.JCross)
	}
	if cfg.MACD != nil {
		s.MACD = NewMACD(*cfg.MACD)
		s.indicators = append(s.indicators, s.MACD)
	}
	if cfg.Nine {
		s.NineUp = NewNine(NineUp)
		s.NineDown = NewNine(NineDown)
		s.indicators = append(s.indicators, s.NineUp, s.NineDown)
	}
	return s
}

// Symbol returns the instrument this set tracks.
func (s *Set) Symbol() string { return s.symbol }

// Bars returns the number of bars processed.
func (s *Set) Bars() int { return s.bars }

// Indicators returns the indicators in evaluation order.
func (s *Set) Indicators() []Indicator { return s.indicators }

// Process feeds bar to every indicator and returns the current value of
// every line (one pass). Undefined values are reported as 0 with Ready=false.
func (s *Set) Process(bar model.Bar) []Value {
	s.bars++
	n := 0
	for _, ind := range s.indicators {
		ind.Update(bar)
		n += len(ind.Lines())
	}

	results := make([]Value, 0, n)
	for _, ind := range s.indicators {
		for _, line := range ind.Lines() {
			v, ok := line.Last()
			if !ok {
				v = 0 // keeps the value JSON-encodable
			}
			results = append(results, Value{
				Name:   ind.Name() + "." + line.Name(),
				Symbol: s.symbol,
				TS:     bar.TS,
				Value:  v,
				Ready:  ok,
			})
		}
	}
	return results
}

// Lookup returns the named line ("K", "MACD_signal", ...) or nil.
func (s *Set) Lookup(line string) *series.Series {
	for _, ind := range s.indicators {
		for _, l := range ind.Lines() {
			if l.Name() == line {
				return l
			}
		}
	}
	return nil
}
