package indicator

// rollingWindow keeps the trailing n values in a preallocated circular buffer.
// n is small (the KDJ lookback), so extremes are found by a linear scan.
type rollingWindow struct {
	buf   []float64
	idx   int // next write position
	count int // total values received
}

func newRollingWindow(n int) *rollingWindow {
	if n < 1 {
		n = 1
	}
	return &rollingWindow{buf: make([]float64, n)}
}

func (w *rollingWindow) Push(v float64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

// Full reports whether n values have been pushed.
func (w *rollingWindow) Full() bool { return w.count >= len(w.buf) }

func (w *rollingWindow) size() int {
	if w.count < len(w.buf) {
		return w.count
	}
	return len(w.buf)
}

func (w *rollingWindow) Max() float64 {
	n := w.size()
	m := w.buf[0]
	for i := 1; i < n; i++ {
		if w.buf[i] > m {
			m = w.buf[i]
		}
	}
	return m
}

func (w *rollingWindow) Min() float64 {
	n := w.size()
	m := w.buf[0]
	for i := 1; i < n; i++ {
		if w.buf[i] < m {
			m = w.buf[i]
		}
	}
	return m
}
