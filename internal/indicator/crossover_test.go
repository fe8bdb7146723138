package indicator

import (
	"math"
	"testing"

	"kdjtrader/internal/series"
)

// crossAt replays a and b bar by bar and records Cross at every index.
func crossAt(a, b []float64) []int {
	sa, sb := series.New("a", len(a)), series.New("b", len(b))
	out := make([]int, len(a))
	for i := range a {
		sa.Append(a[i])
		sb.Append(b[i])
		out[i] = Cross(sa, sb)
	}
	return out
}

func TestCross_Vectors(t *testing.T) {
	up := crossAt([]float64{1, 2, 3}, []float64{2, 2, 2})
	if up[0] != 0 || up[1] != 0 || up[2] != CrossUp {
		t.Errorf("upward vector: got %v, want [0 0 1]", up)
	}

	down := crossAt([]float64{3, 2, 1}, []float64{2, 2, 2})
	if down[0] != 0 || down[1] != 0 || down[2] != CrossDown {
		t.Errorf("downward vector: got %v, want [0 0 -1]", down)
	}
}

func TestCross_TieOnPriorBarCounts(t *testing.T) {
	// a[-1] == b[-1] then a above: upward cross.
	got := crossAt([]float64{5, 6}, []float64{5, 5})
	if got[1] != CrossUp {
		t.Errorf("got %d, want +1", got[1])
	}
	// Staying above is not a new cross.
	got = crossAt([]float64{6, 7}, []float64{5, 5})
	if got[1] != CrossNone {
		t.Errorf("got %d, want 0", got[1])
	}
}

func TestCross_UndefinedIsZero(t *testing.T) {
	nan := math.NaN()
	got := crossAt([]float64{nan, 3}, []float64{2, 2})
	if got[1] != CrossNone {
		t.Errorf("undefined prior sample: got %d, want 0", got[1])
	}
	got = crossAt([]float64{1, 3}, []float64{2, nan})
	if got[1] != CrossNone {
		t.Errorf("undefined current sample: got %d, want 0", got[1])
	}
}

func TestCrossLevel(t *testing.T) {
	j := series.FromValues("J", 85, 95)
	if got := CrossLevel(j, 90); got != CrossUp {
		t.Errorf("J 85→95 over 90: got %d, want +1", got)
	}
	j.Append(88)
	if got := CrossLevel(j, 90); got != CrossDown {
		t.Errorf("J 95→88 over 90: got %d, want -1", got)
	}
	if got := CrossLevel(series.FromValues("J", 95), 90); got != CrossNone {
		t.Errorf("single sample: got %d, want 0", got)
	}
}
