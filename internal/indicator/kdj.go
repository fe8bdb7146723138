package indicator

import (
	"strconv"

	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// KDJ smoothing constants. Alpha is fixed at 1/3 regardless of the nominal
// K/D periods, and K and D start from fixed seeds.
const (
	KDJAlpha = 1.0 / 3.0
	KDJKSeed = 66.464
	KDJDSeed = 69.635
)

// KDJConfig holds the KDJ parameters.
// KPeriod and DPeriod are kept as configuration surface only; the smoothing
// factor is KDJAlpha whatever their value.
type KDJConfig struct {
	Period  int // lookback N for the rolling high/low
	KPeriod int
	DPeriod int
}

// DefaultKDJConfig returns KDJ(9, 3, 3).
func DefaultKDJConfig() KDJConfig {
	return KDJConfig{Period: 9, KPeriod: 3, DPeriod: 3}
}

// KDJ computes the RSV, K, D and J lines incrementally.
//
//	RSV = 100 * (close - lowN) / (highN - lowN)   undefined when highN == lowN
//	K   = smooth(RSV, 1/3, 66.464)
//	D   = smooth(K,   1/3, 69.635)
//	J   = 3K - 2D
//
// When RSV is undefined both K and D carry their previous value forward.
// D is held too rather than smoothing the carried K again, so a flat
// window leaves every line unchanged instead of drifting D toward K.
type KDJ struct {
	cfg KDJConfig

	highs *rollingWindow
	lows  *rollingWindow
	k     *Smoother
	d     *Smoother

	RSV *series.Series
	K   *series.Series
	D   *series.Series
	J   *series.Series
}

// NewKDJ creates a KDJ indicator. A non-positive period falls back to 9.
func NewKDJ(cfg KDJConfig) *KDJ {
	if cfg.Period < 1 {
		cfg.Period = DefaultKDJConfig().Period
	}
	return &KDJ{
		cfg:   cfg,
		highs: newRollingWindow(cfg.Period),
		lows:  newRollingWindow(cfg.Period),
		k:     NewSeededSmoother(KDJAlpha, KDJKSeed),
		d:     NewSeededSmoother(KDJAlpha, KDJDSeed),
		RSV:   series.New("RSV", 256),
		K:     series.New("K", 256),
		D:     series.New("D", 256),
		J:     series.New("J", 256),
	}
}

func (k *KDJ) Name() string { return "KDJ_" + strconv.Itoa(k.cfg.Period) }

// Config returns the parameters the indicator was built with.
func (k *KDJ) Config() KDJConfig { return k.cfg }

func (k *KDJ) Ready() bool { return k.highs.Full() }

func (k *KDJ) Lines() []*series.Series {
	return []*series.Series{k.RSV, k.K, k.D, k.J}
}

func (k *KDJ) Update(bar model.Bar) {
	k.highs.Push(bar.High)
	k.lows.Push(bar.Low)

	if !k.highs.Full() {
		k.RSV.AppendUndefined()
		k.K.AppendUndefined()
		k.D.AppendUndefined()
		k.J.AppendUndefined()
		return
	}

	highN, lowN := k.highs.Max(), k.lows.Min()
	rsv := series.Undefined
	if highN != lowN {
		rsv = 100 * (bar.Close - lowN) / (highN - lowN)
	}

	kv := k.k.Next(rsv)
	// D only moves on bars where K moved.
	dIn := series.Undefined
	if series.IsDefined(rsv) {
		dIn = kv
	}
	dv := k.d.Next(dIn)

	j := series.Undefined
	if series.IsDefined(kv) && series.IsDefined(dv) {
		j = 3*kv - 2*dv
	}

	k.RSV.Append(rsv)
	k.K.Append(kv)
	k.D.Append(dv)
	k.J.Append(j)
}
