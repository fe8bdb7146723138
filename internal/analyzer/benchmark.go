package analyzer

import "kdjtrader/internal/model"

// Benchmark is the TimeReturn of holding the benchmark instrument from the
// first close to the last. An empty input gives an empty report.
func Benchmark(bars []model.Bar) Report {
	if len(bars) == 0 {
		return Report{Name: "Benchmark", Values: map[string]float64{}}
	}
	tr := NewTimeReturn(bars[0].Close)
	for _, b := range bars {
		tr.OnBar(b.TS, b.Close)
	}
	r := tr.Report()
	r.Name = "Benchmark"
	return r
}
