package indicator

import "kdjtrader/internal/series"

// Cross direction values.
const (
	CrossUp   = 1
	CrossNone = 0
	CrossDown = -1
)

// Cross compares a and b at the previous and current bar:
//
//	+1  a[-1] <= b[-1] and a[0] > b[0]
//	-1  a[-1] >= b[-1] and a[0] < b[0]
//	 0  otherwise, or when any of the four samples is undefined
func Cross(a, b *series.Series) int {
	a1, ok1 := a.At(-1)
	b1, ok2 := b.At(-1)
	a0, ok3 := a.At(0)
	b0, ok4 := b.At(0)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return CrossNone
	}
	return crossValues(a1, b1, a0, b0)
}

// CrossLevel is Cross against a constant line, e.g. J crossing 90.
func CrossLevel(a *series.Series, level float64) int {
	a1, ok1 := a.At(-1)
	a0, ok2 := a.At(0)
	if !ok1 || !ok2 {
		return CrossNone
	}
	return crossValues(a1, level, a0, level)
}

func crossValues(aPrev, bPrev, aCur, bCur float64) int {
	switch {
	case aPrev <= bPrev && aCur > bCur:
		return CrossUp
	case aPrev >= bPrev && aCur < bCur:
		return CrossDown
	default:
		return CrossNone
	}
}
