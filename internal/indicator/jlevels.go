package indicator

import (
	"strconv"

	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// JLevels tracks KDJ's J line crossing fixed thresholds. Each line holds
// CrossUp, CrossDown or CrossNone per bar (undefined while J has fewer than
// two defined samples).
//
// It reads the KDJ it is built on, so it must be updated after that KDJ.
type JLevels struct {
	kdj    *KDJ
	levels []float64
	lines  []*series.Series
}

// NewJLevels creates cross lines "J_<level>" for each level over k.J.
func NewJLevels(k *KDJ, levels ...float64) *JLevels {
	jl := &JLevels{kdj: k, levels: levels}
	for _, lv := range levels {
		jl.lines = append(jl.lines, series.New("J_"+strconv.FormatFloat(lv, 'f', -1, 64), 256))
	}
	return jl
}

func (jl *JLevels) Name() string { return jl.kdj.Name() + "_CROSS" }

func (jl *JLevels) Ready() bool { return jl.defined() }

func (jl *JLevels) Lines() []*series.Series { return jl.lines }

func (jl *JLevels) Update(model.Bar) {
	ok := jl.defined()
	for i, lv := range jl.levels {
		if !ok {
			jl.lines[i].AppendUndefined()
			continue
		}
		jl.lines[i].Append(float64(CrossLevel(jl.kdj.J, lv)))
	}
}

func (jl *JLevels) defined() bool {
	_, ok1 := jl.kdj.J.At(-1)
	_, ok2 := jl.kdj.J.At(0)
	return ok1 && ok2
}
