// cmd/backtest runs the KDJ (or MACD) strategy over historical bars through
// the paper broker and prints the analyzer reports.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/HK.00700.csv --symbol=HK.00700
//	go run ./cmd/backtest --db=data/bars.db --symbol=HK.00700 --from=2020-01-01 --strategy=macd
//
// Every flag defaults to the matching environment variable (see config).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"kdjtrader/config"
	"kdjtrader/internal/analyzer"
	"kdjtrader/internal/backtest"
	"kdjtrader/internal/execution"
	"kdjtrader/internal/export"
	"kdjtrader/internal/feed"
	"kdjtrader/internal/gateway"
	"kdjtrader/internal/indicator"
	"kdjtrader/internal/logger"
	"kdjtrader/internal/metrics"
	"kdjtrader/internal/model"
	"kdjtrader/internal/notification"
	"kdjtrader/internal/sizer"
	"kdjtrader/internal/store/redis"
	sqlitestore "kdjtrader/internal/store/sqlite"
	"kdjtrader/internal/strategy"
)

type options struct {
	csvPath   string
	encoding  string
	from, to  string
	benchmark string
	journal   bool
	jsonOut   string
	arrowOut  string
	holdOpen  time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	var opts options

	flag.StringVar(&opts.csvPath, "csv", "", "Bar CSV file (takes precedence over --db)")
	flag.StringVar(&opts.encoding, "encoding", "auto", "CSV encoding: auto, utf8, gbk, utf16")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite bar store; also receives the fill journal and run report")
	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Instrument symbol (required for --db)")
	flag.StringVar(&opts.from, "from", "", "First bar date, YYYY-MM-DD (SQLite only)")
	flag.StringVar(&opts.to, "to", "", "Last bar date, YYYY-MM-DD (SQLite only)")
	flag.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "Strategy: kdj or macd")
	flag.Float64Var(&cfg.Cash, "cash", cfg.Cash, "Starting cash")
	flag.Float64Var(&cfg.CashFraction, "fraction", cfg.CashFraction, "Fraction of cash per entry")
	flag.Float64Var(&cfg.CommissionPerc, "commission", cfg.CommissionPerc, "Commission as a fraction of traded value")
	flag.IntVar(&cfg.FillDelayBars, "fill-delay", cfg.FillDelayBars, "Bars between submission and fill (0 = same bar open)")
	flag.IntVar(&cfg.KDJPeriod, "kdj-period", cfg.KDJPeriod, "KDJ lookback N")
	flag.StringVar(&opts.benchmark, "benchmark", "", "Benchmark bar CSV for a buy-and-hold TimeReturn")
	flag.BoolVar(&opts.journal, "journal", true, "Record fills in the SQLite journal (needs --db)")
	flag.StringVar(&opts.jsonOut, "json", "", "Write the run result as JSON to this file")
	flag.StringVar(&opts.arrowOut, "arrow", "", "Write the per-bar history as an Arrow IPC stream to this file")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics and /healthz on this address")
	flag.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "Serve the websocket event hub on this address")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Publish events to Redis at this address")
	flag.StringVar(&cfg.WebhookURL, "webhook", cfg.WebhookURL, "POST trade alerts to this URL")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.DurationVar(&opts.holdOpen, "hold", 0, "Keep the metrics and websocket servers up this long after the run")
	flag.Parse()

	if err := run(cfg, opts); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
}

// run executes one backtest. Every resource it opens is released before it
// returns, including on errors.
func run(cfg *config.Config, opts options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	lg := logger.Init("backtest", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	bars, err := loadBars(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return errors.New("no bars to run")
	}
	symbol := bars[0].Symbol

	runID := logger.GenerateRunID(cfg.Strategy, symbol, time.Now())
	ctx = logger.WithRunID(ctx, runID)
	lg = lg.With(logger.LogWithRun(ctx)...)

	broker, err := execution.NewPaperBroker(execution.PaperConfig{
		Cash:           cfg.Cash,
		CommissionPerc: cfg.CommissionPerc,
		FillDelay:      cfg.FillDelayBars,
		CancelAtEnd:    cfg.CancelAtEnd,
	})
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	if opts.journal && cfg.SQLitePath != "" {
		journal, err := execution.NewJournal(cfg.SQLitePath, runID)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		broker.SetRecorder(journal)
	}

	setCfg := indicator.SetConfig{
		KDJ:     indicator.KDJConfig{Period: cfg.KDJPeriod, KPeriod: cfg.KDJKPeriod, DPeriod: cfg.KDJDPeriod},
		Nine:    true,
		JLevels: []float64{90, 100},
	}
	if cfg.Strategy == "macd" {
		macd := indicator.DefaultMACDConfig()
		setCfg.MACD = &macd
	}
	set := indicator.NewSet(symbol, setCfg)

	sz, err := sizer.NewFixedFraction(cfg.CashFraction)
	if err != nil {
		return fmt.Errorf("sizer: %w", err)
	}
	var strat strategy.Strategy
	switch cfg.Strategy {
	case "macd":
		strat = strategy.NewMACDStrategy(symbol, set.MACD, broker, sz, lg)
	default:
		strat = strategy.NewKDJStrategy(symbol, strategy.LinesOf(set.KDJ), broker, sz, strategy.DefaultKDJParams(), lg)
	}

	engine := backtest.New(strat, broker, set, analyzer.Defaults(cfg.Cash), lg)

	servers, stop := attachObservers(ctx, cfg, engine)
	defer stop()

	var recorder *export.Recorder
	if opts.arrowOut != "" {
		recorder = export.NewRecorder()
		engine.AddObserver(recorder)
	}

	res, err := engine.Run(ctx, bars)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if opts.benchmark != "" {
		res.Reports = append(res.Reports, benchmarkReport(opts, res))
	}

	printSummary(res)

	if cfg.SQLitePath != "" {
		saveReport(ctx, cfg.SQLitePath, runID, res)
	}
	if opts.jsonOut != "" {
		if err := writeJSON(opts.jsonOut, res); err != nil {
			log.Printf("[backtest] write %s: %v", opts.jsonOut, err)
		}
	}

	if recorder != nil {
		if err := recorder.WriteFile(opts.arrowOut); err != nil {
			log.Printf("[backtest] write %s: %v", opts.arrowOut, err)
		}
	}

	if servers && opts.holdOpen > 0 {
		lg.Info("holding servers open", slog.Duration("for", opts.holdOpen))
		select {
		case <-ctx.Done():
		case <-time.After(opts.holdOpen):
		}
	}
	return nil
}

func loadBars(ctx context.Context, cfg *config.Config, opts options) ([]model.Bar, error) {
	if opts.csvPath != "" {
		enc, err := feed.ParseEncoding(opts.encoding)
		if err != nil {
			return nil, err
		}
		return feed.LoadCSV(opts.csvPath, feed.Options{Symbol: cfg.Symbol, Encoding: enc})
	}
	if cfg.SQLitePath == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("need --csv, or --db with --symbol")
	}
	from, err := parseDate(opts.from)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(opts.to)
	if err != nil {
		return nil, err
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	var reader model.BarReader
	reader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadBars(ctx, cfg.Symbol, from, to)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// attachObservers wires the optional metrics, websocket, redis and
// notification components into the engine. It reports whether any HTTP
// server was started and returns the shutdown function.
func attachObservers(ctx context.Context, cfg *config.Config, engine *backtest.Engine) (bool, func()) {
	var stops []func()
	servers := false

	var (
		m      *metrics.Metrics
		health *metrics.HealthStatus
	)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		health = metrics.NewHealthStatus()
		m = metrics.NewMetrics(reg, health)
		health.SetRunning(true)
		srv := metrics.NewServer(cfg.MetricsAddr, reg, health)
		srv.Start()
		engine.AddObserver(m)
		servers = true
		stops = append(stops, func() {
			health.SetRunning(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		})
	}

	if cfg.WSAddr != "" {
		hub := gateway.NewHub(0)
		srv := &http.Server{Addr: cfg.WSAddr, Handler: hub}
		go func() {
			log.Printf("[gateway] websocket hub listening on %s", cfg.WSAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[gateway] server error: %v", err)
			}
		}()
		engine.AddObserver(hub)
		servers = true
		stops = append(stops, func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.RedisAddr != "" {
		pub, err := redis.Dial(ctx, redis.PublisherConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[backtest] redis disabled: %v", err)
		} else {
			if health != nil {
				health.CheckRedis(ctx, pub.Client())
				health.StartLivenessChecker(ctx, pub.Client(), nil, 10*time.Second)
			}
			if m != nil {
				pub.OnBuffer = m.RedisBufferedEvents.Inc
				pub.Breaker().OnStateChange = func(_, to redis.BreakerState) {
					m.RedisCircuitBreakerState.Set(float64(to))
					if to == redis.StateOpen {
						m.RedisCircuitBreakerTrips.Inc()
					}
				}
			}
			engine.AddObserver(pub)
			stops = append(stops, func() {
				if n := pub.Flush(); n > 0 {
					log.Printf("[redis] %d events left buffered at shutdown", n)
				}
				pub.Close()
			})
		}
	}

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	engine.AddObserver(notification.NewTradeAlerter(ctx, notifiers))

	return servers, func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
}

func benchmarkReport(opts options, res *backtest.Result) analyzer.Report {
	enc, _ := feed.ParseEncoding(opts.encoding)
	bars, err := feed.LoadCSV(opts.benchmark, feed.Options{Encoding: enc})
	if err != nil {
		log.Printf("[backtest] benchmark %s: %v", opts.benchmark, err)
		return analyzer.Report{Name: "Benchmark", Values: map[string]float64{}}
	}
	// Limit to the run's period.
	var inRange []model.Bar
	for _, b := range bars {
		if !b.TS.Before(res.From) && !b.TS.After(res.To) {
			inRange = append(inRange, b)
		}
	}
	return analyzer.Benchmark(inRange)
}

func saveReport(ctx context.Context, dbPath, runID string, res *backtest.Result) {
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		log.Printf("[backtest] report store: %v", err)
		return
	}
	defer w.Close()
	if err := w.SaveReport(ctx, runID, res); err != nil {
		log.Printf("[backtest] save report: %v", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(res *backtest.Result) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Strategy:     %-25s ║\n", res.Strategy)
	fmt.Printf("║  Symbol:       %-25s ║\n", res.Symbol)
	fmt.Printf("║  Period:       %-25s ║\n", res.From.Format("2006-01-02")+" → "+res.To.Format("2006-01-02"))
	fmt.Printf("║  Bars:         %-25d ║\n", res.Bars)
	fmt.Printf("║  Start value:  %-25.2f ║\n", res.StartValue)
	fmt.Printf("║  Final value:  %-25.2f ║\n", res.FinalValue)
	fmt.Printf("║  Fills:        %-25d ║\n", len(res.Fills))
	fmt.Printf("║  Trades:       %-25d ║\n", len(res.Trades))
	fmt.Println("╚══════════════════════════════════════════╝")

	for _, r := range res.Reports {
		fmt.Printf("\n%s\n", r.Name)
		if len(r.Values) == 0 {
			fmt.Println("  (undefined)")
			continue
		}
		keys := lo.Keys(r.Values)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-20s %.6f\n", k, r.Values[k])
		}
	}
}
