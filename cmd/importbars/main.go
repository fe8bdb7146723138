// cmd/importbars loads a bar CSV export into the SQLite bar store so that
// cmd/backtest can read it with --db.
//
// Usage:
//
//	go run ./cmd/importbars --csv=data/HK.00700.csv --db=data/bars.db
//	go run ./cmd/importbars --csv=export.csv --symbol=HK.00700 --encoding=gbk --incremental
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kdjtrader/config"
	"kdjtrader/internal/feed"
	"kdjtrader/internal/model"
	sqlitestore "kdjtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[importbars] %v", err)
	}
	csvPath := flag.String("csv", "", "Bar CSV file to import")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite bar store")
	symbol := flag.String("symbol", cfg.Symbol, "Symbol for every row (default: the code column)")
	encoding := flag.String("encoding", "auto", "CSV encoding: auto, utf8, gbk, utf16")
	incremental := flag.Bool("incremental", false, "Skip bars at or before the last stored timestamp")
	flag.Parse()

	if *csvPath == "" || *dbPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enc, err := feed.ParseEncoding(*encoding)
	if err != nil {
		log.Fatalf("[importbars] %v", err)
	}
	bars, err := feed.LoadCSV(*csvPath, feed.Options{Symbol: *symbol, Encoding: enc})
	if err != nil {
		log.Fatalf("[importbars] %v", err)
	}

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[importbars] %v", err)
	}
	defer w.Close()

	if *incremental {
		bars, err = skipStored(ctx, w, bars)
		if err != nil {
			log.Fatalf("[importbars] %v", err)
		}
	}

	n, err := w.WriteBars(ctx, bars)
	if err != nil {
		log.Fatalf("[importbars] write: %v", err)
	}
	log.Printf("[importbars] imported %d bars from %s into %s", n, *csvPath, *dbPath)
}

// skipStored drops bars not newer than the last stored bar of their symbol.
func skipStored(ctx context.Context, w *sqlitestore.Writer, bars []model.Bar) ([]model.Bar, error) {
	last := make(map[string]int64)
	out := bars[:0]
	for _, b := range bars {
		cut, ok := last[b.Symbol]
		if !ok {
			ts, err := w.LastTimestamp(ctx, b.Symbol)
			if err != nil {
				return nil, err
			}
			cut = -1 << 62
			if !ts.IsZero() {
				cut = ts.Unix()
			}
			last[b.Symbol] = cut
		}
		if b.TS.Unix() > cut {
			out = append(out, b)
		}
	}
	return out, nil
}
