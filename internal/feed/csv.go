// Package feed loads historical bars from CSV exports such as the Futu
// kline download (code,time_key,open,close,high,low,...,volume,...).
package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"kdjtrader/internal/model"
)

// Encoding selects how the CSV bytes are decoded.
type Encoding string

const (
	EncodingAuto  Encoding = ""      // UTF-16 by BOM, GBK when not valid UTF-8, else UTF-8
	EncodingUTF8  Encoding = "utf8"
	EncodingGBK   Encoding = "gbk"
	EncodingUTF16 Encoding = "utf16" // BOM required
)

// ParseEncoding maps a flag value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf8":
		return EncodingUTF8, nil
	case "gbk", "gb18030":
		return EncodingGBK, nil
	case "utf16":
		return EncodingUTF16, nil
	}
	return "", fmt.Errorf("feed: unknown encoding %q", s)
}

var (
	ErrMissingColumn = errors.New("feed: missing column")
	ErrDuplicateTS   = errors.New("feed: duplicate timestamp")
	ErrNoSymbol      = errors.New("feed: no symbol given and no code column")
)

// Options controls CSV parsing.
type Options struct {
	Symbol   string         // overrides the code column when set
	Encoding Encoding
	Location *time.Location // zone for timestamps without one; default UTC
}

// column aliases, first match wins
var columns = map[string][]string{
	"ts":     {"time_key", "datetime", "date", "timestamp", "time"},
	"open":   {"open"},
	"high":   {"high"},
	"low":    {"low"},
	"close":  {"close"},
	"volume": {"volume", "vol"},
	"code":   {"code", "symbol"},
}

var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"20060102",
	time.RFC3339,
}

// LoadCSV reads bars from the file at path.
func LoadCSV(path string, opts Options) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV parses a header row and bar rows. Bars are returned sorted by
// timestamp; duplicate timestamps and inconsistent prices are errors.
func ReadCSV(r io.Reader, opts Options) ([]model.Bar, error) {
	dec, err := decode(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("feed: read header: %w", err)
	}
	idx := indexColumns(header)
	for _, req := range []string{"ts", "open", "high", "low", "close"} {
		if _, ok := idx[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columns[req][0])
		}
	}
	if opts.Symbol == "" {
		if _, ok := idx["code"]; !ok {
			return nil, ErrNoSymbol
		}
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		b, err := parseRow(rec, idx, opts.Symbol, loc)
		if err != nil {
			return nil, fmt.Errorf("feed: line %d: %w", line, err)
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	for i := 1; i < len(bars); i++ {
		if bars[i].TS.Equal(bars[i-1].TS) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTS, bars[i].TS.Format(time.RFC3339))
		}
	}
	return bars, nil
}

func decode(r io.Reader, enc Encoding) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	switch enc {
	case EncodingUTF8:
		return br, nil
	case EncodingGBK:
		return transform.NewReader(br, simplifiedchinese.GBK.NewDecoder()), nil
	case EncodingUTF16:
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()), nil
	case EncodingAuto:
	default:
		return nil, fmt.Errorf("feed: unknown encoding %q", enc)
	}

	head, _ := br.Peek(4096)
	if len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()), nil
	}
	if !validPrefix(head) {
		return transform.NewReader(br, simplifiedchinese.GBK.NewDecoder()), nil
	}
	return br, nil
}

// validPrefix is utf8.Valid tolerating a rune cut off by the peek window.
func validPrefix(b []byte) bool {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		b = b[:len(b)-1]
	}
	return len(b) == 0
}

func indexColumns(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	idx := make(map[string]int, len(columns))
	for key, aliases := range columns {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[key] = i
				break
			}
		}
	}
	return idx
}

func parseRow(rec []string, idx map[string]int, symbol string, loc *time.Location) (model.Bar, error) {
	field := func(key string) string {
		i, ok := idx[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(strings.Trim(rec[i], `"`))
	}
	num := func(key string) (float64, error) {
		s := field(key)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", key, s, err)
		}
		return v, nil
	}

	var b model.Bar
	var err error
	b.Symbol = symbol
	if b.Symbol == "" {
		b.Symbol = field("code")
	}
	if b.TS, err = parseTime(field("ts"), loc); err != nil {
		return b, err
	}
	if b.Open, err = num("open"); err != nil {
		return b, err
	}
	if b.High, err = num("high"); err != nil {
		return b, err
	}
	if b.Low, err = num("low"); err != nil {
		return b, err
	}
	if b.Close, err = num("close"); err != nil {
		return b, err
	}
	if _, ok := idx["volume"]; ok && field("volume") != "" {
		if b.Volume, err = num("volume"); err != nil {
			return b, err
		}
	}
	if !b.Valid() {
		return b, fmt.Errorf("inconsistent bar o=%v h=%v l=%v c=%v", b.Open, b.High, b.Low, b.Close)
	}
	return b, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	// Unix seconds or milliseconds
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 {
		if n > 1e11 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognised format", s)
}

// WriteCSV writes bars in the column order ReadCSV accepts.
func WriteCSV(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"code", "time_key", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		rec := []string{b.Symbol, b.TS.Format("2006-01-02 15:04:05"), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

