// Package export writes the per-bar run history (bar, equity and every
// indicator line) as an Apache Arrow IPC stream for notebook analysis.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

const defaultBatchSize = 1024

// fixed leading columns; indicator lines follow
var baseFields = []arrow.Field{
	{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
}

var ErrEmpty = errors.New("export: no bars recorded")

type row struct {
	bar    model.Bar
	equity float64
	values []float64
	ready  []bool
}

// Recorder keeps one row per bar. The indicator columns are fixed by the
// first bar; later bars must report the same lines in the same order.
// It has the method set of a backtest observer.
type Recorder struct {
	BatchSize int // rows per record batch, default 1024

	mu    sync.Mutex
	lines []string
	rows  []row
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnBar(bar model.Bar, values []indicator.Value, equity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.lines = make([]string, len(values))
		for i, v := range values {
			r.lines[i] = v.Name
		}
	}
	rw := row{bar: bar, equity: equity, values: make([]float64, len(r.lines)), ready: make([]bool, len(r.lines))}
	for i := range r.lines {
		if i < len(values) && values[i].Name == r.lines[i] {
			rw.values[i], rw.ready[i] = values[i].Value, values[i].Ready
		}
	}
	r.rows = append(r.rows, rw)
}

func (r *Recorder) OnSignal(strategy.Signal)        {}
func (r *Recorder) OnFill(*model.Order, model.Fill) {}
func (r *Recorder) OnCancel(*model.Order)           {}

// Len returns the number of recorded bars.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Schema returns the stream schema for the recorded lines.
func (r *Recorder) Schema() *arrow.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schemaLocked()
}

func (r *Recorder) schemaLocked() *arrow.Schema {
	fields := append([]arrow.Field(nil), baseFields...)
	for _, name := range r.lines {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// WriteTo streams the rows to w as Arrow IPC record batches. Undefined
// indicator values are written as nulls.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return 0, ErrEmpty
	}

	mem := memory.NewGoAllocator()
	schema := r.schemaLocked()
	cw := &countingWriter{w: w}
	writer := ipc.NewWriter(cw, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for start := 0; start < len(r.rows); start += batch {
		end := min(start+batch, len(r.rows))
		for _, rw := range r.rows[start:end] {
			appendRow(b, rw)
		}
		rec := b.NewRecord()
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			writer.Close()
			return cw.n, fmt.Errorf("export: write batch: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return cw.n, fmt.Errorf("export: close stream: %w", err)
	}
	return cw.n, nil
}

// WriteFile writes the stream to path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func appendRow(b *array.RecordBuilder, rw row) {
	b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(rw.bar.TS.UnixMilli()))
	b.Field(1).(*array.StringBuilder).Append(rw.bar.Symbol)
	b.Field(2).(*array.Float64Builder).Append(rw.bar.Open)
	b.Field(3).(*array.Float64Builder).Append(rw.bar.High)
	b.Field(4).(*array.Float64Builder).Append(rw.bar.Low)
	b.Field(5).(*array.Float64Builder).Append(rw.bar.Close)
	b.Field(6).(*array.Float64Builder).Append(rw.bar.Volume)
	b.Field(7).(*array.Float64Builder).Append(rw.equity)
	for i, v := range rw.values {
		fb := b.Field(len(baseFields) + i).(*array.Float64Builder)
		if rw.ready[i] {
			fb.Append(v)
		} else {
			fb.AppendNull()
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
