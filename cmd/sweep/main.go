// cmd/sweep grid-searches the KDJ lookback and cash fraction over one bar
// set and prints the best combinations.
//
// Usage:
//
//	go run ./cmd/sweep --csv=data/HK.00700.csv --periods=5:30:1 --fractions=0.1,0.2,0.5
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kdjtrader/config"
	"kdjtrader/internal/execution"
	"kdjtrader/internal/feed"
	"kdjtrader/internal/logger"
	"kdjtrader/internal/model"
	sqlitestore "kdjtrader/internal/store/sqlite"
	"kdjtrader/internal/sweep"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[sweep] %v", err)
	}
	csvPath := flag.String("csv", "", "Bar CSV file (takes precedence over --db)")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite bar store")
	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Instrument symbol")
	flag.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "Strategy: kdj or macd")
	flag.Float64Var(&cfg.Cash, "cash", cfg.Cash, "Starting cash")
	flag.Float64Var(&cfg.CommissionPerc, "commission", cfg.CommissionPerc, "Commission as a fraction of traded value")
	flag.IntVar(&cfg.FillDelayBars, "fill-delay", cfg.FillDelayBars, "Bars between submission and fill")
	periods := flag.String("periods", "5:30:1", "KDJ lookbacks: from:to:step (to excluded) or a comma list")
	fractions := flag.String("fractions", "0.1,0.2,0.5,1", "Comma-separated cash fractions")
	workers := flag.Int("workers", 4, "Concurrent backtests")
	top := flag.Int("top", 10, "Rows to print")
	jsonOut := flag.String("json", "", "Write every outcome as JSON to this file")
	flag.StringVar(&cfg.LogLevel, "log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[sweep] %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[sweep] %v", err)
	}
	lg := logger.Init("sweep", level)

	grid := sweep.Grid{Strategy: cfg.Strategy}
	if grid.Periods, err = parsePeriods(*periods); err != nil {
		log.Fatalf("[sweep] --periods: %v", err)
	}
	if grid.Fractions, err = parseFloats(*fractions); err != nil {
		log.Fatalf("[sweep] --fractions: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars, err := loadBars(ctx, *csvPath, cfg)
	if err != nil {
		log.Fatalf("[sweep] load bars: %v", err)
	}

	combos := grid.Combinations()
	log.Printf("[sweep] %d combinations over %d bars, %d workers", len(combos), len(bars), *workers)

	runner := &sweep.Runner{
		Bars: bars,
		Broker: execution.PaperConfig{
			Cash:           cfg.Cash,
			CommissionPerc: cfg.CommissionPerc,
			FillDelay:      cfg.FillDelayBars,
			CancelAtEnd:    cfg.CancelAtEnd,
		},
		Workers: *workers,
		Logger:  lg,
	}
	outcomes, err := runner.Run(ctx, combos)
	if err != nil {
		log.Fatalf("[sweep] %v", err)
	}

	fmt.Printf("\n%-6s %-8s %-14s %-10s %s\n", "N", "FRAC", "FINAL", "RETURN", "TRADES")
	for i, o := range outcomes {
		if i >= *top {
			break
		}
		if o.Err != nil {
			fmt.Printf("%-6d %-8.2f error: %v\n", o.Params.KDJPeriod, o.Params.CashFraction, o.Err)
			continue
		}
		fmt.Printf("%-6d %-8.2f %-14.2f %-10.4f %d\n", o.Params.KDJPeriod, o.Params.CashFraction, o.FinalValue, o.Return, o.Trades)
	}

	if *jsonOut != "" {
		data, err := json.MarshalIndent(outcomes, "", "  ")
		if err == nil {
			err = os.WriteFile(*jsonOut, data, 0o644)
		}
		if err != nil {
			log.Printf("[sweep] write %s: %v", *jsonOut, err)
		}
	}
}

func loadBars(ctx context.Context, csvPath string, cfg *config.Config) ([]model.Bar, error) {
	if csvPath != "" {
		return feed.LoadCSV(csvPath, feed.Options{Symbol: cfg.Symbol})
	}
	if cfg.SQLitePath == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("need --csv, or --db with --symbol")
	}
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadBars(ctx, cfg.Symbol, time.Time{}, time.Time{})
}

// parsePeriods accepts "from:to:step" or "5,9,14".
func parsePeriods(s string) ([]int, error) {
	if parts := strings.Split(s, ":"); len(parts) == 3 {
		var n [3]int
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			n[i] = v
		}
		if n[0] < 1 || n[2] < 1 || n[1] <= n[0] {
			return nil, fmt.Errorf("bad range %q", s)
		}
		return sweep.PeriodRange(n[0], n[1], n[2]), nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return nil, fmt.Errorf("bad period %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 || v > 1 {
			return nil, fmt.Errorf("bad fraction %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}
