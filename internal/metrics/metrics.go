// Package metrics exposes backtest progress as Prometheus metrics and a
// JSON health endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

// Metrics holds the run metrics. It has the method set of a backtest
// observer, so it can be attached to an engine directly.
type Metrics struct {
	BarsTotal    prometheus.Counter
	SignalsTotal *prometheus.CounterVec // labels: action
	FillsTotal   *prometheus.CounterVec // labels: side
	CancelsTotal *prometheus.CounterVec // labels: reason
	Commission   prometheus.Counter
	Equity       prometheus.Gauge
	PeakEquity   prometheus.Gauge
	DrawdownPct  prometheus.Gauge
	LastBarTS    prometheus.Gauge
	Indicator    *prometheus.GaugeVec // labels: line; only ready values are set

	// Redis publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	health *HealthStatus
	mu     sync.Mutex
	peak   float64
}

// NewMetrics creates the metrics and registers them with reg. health may
// be nil.
func NewMetrics(reg prometheus.Registerer, health *HealthStatus) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdj_bars_total",
			Help: "Total bars processed",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kdj_signals_total",
			Help: "Orders submitted by the strategy (by action)",
		}, []string{"action"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kdj_fills_total",
			Help: "Orders filled (by side)",
		}, []string{"side"}),
		CancelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kdj_cancels_total",
			Help: "Orders cancelled (by reason)",
		}, []string{"reason"}),
		Commission: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdj_commission_total",
			Help: "Commission paid",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdj_equity",
			Help: "Portfolio value at the last bar close",
		}),
		PeakEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdj_equity_peak",
			Help: "Highest portfolio value seen",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdj_drawdown_pct",
			Help: "Current drawdown from the peak, in percent",
		}),
		LastBarTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdj_last_bar_timestamp_seconds",
			Help: "Timestamp of the last processed bar",
		}),
		Indicator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kdj_indicator_value",
			Help: "Latest defined value of each indicator line",
		}, []string{"line"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kdj_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdj_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kdj_redis_buffered_events_total",
			Help: "Events buffered locally while Redis was unavailable",
		}),
		health: health,
	}

	reg.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.FillsTotal,
		m.CancelsTotal,
		m.Commission,
		m.Equity,
		m.PeakEquity,
		m.DrawdownPct,
		m.LastBarTS,
		m.Indicator,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
	)

	return m
}

func (m *Metrics) OnBar(bar model.Bar, values []indicator.Value, equity float64) {
	m.BarsTotal.Inc()
	m.LastBarTS.Set(float64(bar.TS.Unix()))
	m.Equity.Set(equity)
	for _, v := range values {
		if v.Ready {
			m.Indicator.WithLabelValues(v.Name).Set(v.Value)
		}
	}

	m.mu.Lock()
	if equity > m.peak {
		m.peak = equity
	}
	peak := m.peak
	m.mu.Unlock()
	m.PeakEquity.Set(peak)
	if peak > 0 {
		m.DrawdownPct.Set(100 * (peak - equity) / peak)
	}

	if m.health != nil {
		m.health.SetLastBar(bar.TS)
	}
}

func (m *Metrics) OnSignal(sig strategy.Signal) {
	m.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
}

func (m *Metrics) OnFill(_ *model.Order, fill model.Fill) {
	m.FillsTotal.WithLabelValues(string(fill.Side)).Inc()
	m.Commission.Add(fill.Commission)
}

func (m *Metrics) OnCancel(order *model.Order) {
	m.CancelsTotal.WithLabelValues(order.Reason).Inc()
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	Running        bool      `json:"running"`
	BarsProcessed  int64     `json:"bars_processed"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRunning(v bool) {
	h.mu.Lock()
	h.Running = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBar(ts time.Time) {
	h.mu.Lock()
	h.LastBarTime = ts
	h.BarsProcessed++
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies
// are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. A dependency that is enabled
// but failing degrades the status.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	lastBar := ""
	if !h.LastBarTime.IsZero() {
		lastBar = h.LastBarTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Running         bool    `json:"running"`
		BarsProcessed   int64   `json:"bars_processed"`
		LastBarTime     string  `json:"last_bar_time"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Running:         h.Running,
		BarsProcessed:   h.BarsProcessed,
		LastBarTime:     lastBar,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server serving gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
