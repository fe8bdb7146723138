package indicator

import (
	"strconv"

	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// MACDConfig holds the MACD periods.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultMACDConfig returns MACD(12, 26, 9).
func DefaultMACDConfig() MACDConfig {
	return MACDConfig{Fast: 12, Slow: 26, Signal: 9}
}

// MACD computes the MACD line (fast EMA - slow EMA of close), its signal
// line (EMA of MACD) and the histogram (MACD - signal).
type MACD struct {
	cfg    MACDConfig
	fast   *EMA
	slow   *EMA
	signal *EMA

	Line   *series.Series
	Signal *series.Series
	Histo  *series.Series
}

// NewMACD creates a MACD indicator. Non-positive periods fall back to defaults.
func NewMACD(cfg MACDConfig) *MACD {
	def := DefaultMACDConfig()
	if cfg.Fast < 1 {
		cfg.Fast = def.Fast
	}
	if cfg.Slow < 1 {
		cfg.Slow = def.Slow
	}
	if cfg.Signal < 1 {
		cfg.Signal = def.Signal
	}
	return &MACD{
		cfg:    cfg,
		fast:   NewEMA(cfg.Fast),
		slow:   NewEMA(cfg.Slow),
		signal: NewEMA(cfg.Signal),
		Line:   series.New("MACD", 256),
		Signal: series.New("MACD_signal", 256),
		Histo:  series.New("MACD_histo", 256),
	}
}

func (m *MACD) Name() string {
	return "MACD_" + strconv.Itoa(m.cfg.Fast) + "_" + strconv.Itoa(m.cfg.Slow) + "_" + strconv.Itoa(m.cfg.Signal)
}

func (m *MACD) Ready() bool { return m.signal.Ready() }

func (m *MACD) Lines() []*series.Series {
	return []*series.Series{m.Line, m.Signal, m.Histo}
}

func (m *MACD) Update(bar model.Bar) {
	m.fast.Update(bar.Close)
	m.slow.Update(bar.Close)

	if !m.fast.Ready() || !m.slow.Ready() {
		m.Line.AppendUndefined()
		m.Signal.AppendUndefined()
		m.Histo.AppendUndefined()
		return
	}

	line := m.fast.Value() - m.slow.Value()
	m.signal.Update(line)
	m.Line.Append(line)

	sig := m.signal.Value()
	if !series.IsDefined(sig) {
		m.Signal.AppendUndefined()
		m.Histo.AppendUndefined()
		return
	}
	m.Signal.Append(sig)
	m.Histo.Append(line - sig)
}
