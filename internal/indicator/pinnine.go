package indicator

import (
	"kdjtrader/internal/model"
	"kdjtrader/internal/series"
)

// NineDirection selects which sequential count a Nine indicator tracks.
type NineDirection string

const (
	NineUp   NineDirection = "up"   // close above the close four bars earlier
	NineDown NineDirection = "down" // close below the close four bars earlier
)

const nineLookback = 4

// Nine is a sequential "nine" count. Each bar whose close beats the close
// four bars earlier extends the count 1..9, wrapping back to 1 after 9; a
// miss resets it to 0. The output line shows the count only once it reaches
// 5 (values 5..9), otherwise 0. The first five bars always output 0.
type Nine struct {
	dir    NineDirection
	closes []float64 // last nineLookback+1 closes, oldest first
	count  int
	bars   int

	Count *series.Series
}

// NewNine creates a nine-count indicator. Unknown directions count "up".
func NewNine(dir NineDirection) *Nine {
	if dir != NineDown {
		dir = NineUp
	}
	return &Nine{
		dir:    dir,
		closes: make([]float64, 0, nineLookback+1),
		Count:  series.New("NINE_"+string(dir), 256),
	}
}

func (n *Nine) Name() string { return "NINE_" + string(n.dir) }

func (n *Nine) Ready() bool { return n.bars > nineLookback }

func (n *Nine) Lines() []*series.Series { return []*series.Series{n.Count} }

func (n *Nine) Update(bar model.Bar) {
	if len(n.closes) == nineLookback+1 {
		copy(n.closes, n.closes[1:])
		n.closes = n.closes[:nineLookback]
	}
	n.closes = append(n.closes, bar.Close)
	n.bars++

	if n.bars <= nineLookback+1 {
		n.Count.Append(0)
		return
	}

	now, ref := bar.Close, n.closes[0]
	hit := now > ref
	if n.dir == NineDown {
		hit = now < ref
	}

	switch {
	case !hit:
		n.count = 0
	case n.count == 9:
		n.count = 1
	default:
		n.count++
	}

	if n.count >= 5 {
		n.Count.Append(float64(n.count))
	} else {
		n.Count.Append(0)
	}
}
