package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	health := NewHealthStatus()
	m := NewMetrics(reg, health)

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	values := []indicator.Value{
		{Name: "KDJ_9.K", Value: 55, Ready: true},
		{Name: "KDJ_9.J", Ready: false},
	}
	m.OnBar(model.Bar{Symbol: "X", TS: ts}, values, 100)
	m.OnBar(model.Bar{Symbol: "X", TS: ts.AddDate(0, 0, 1)}, values, 90)
	m.OnSignal(strategy.Signal{Action: strategy.ActionBuy})
	m.OnFill(&model.Order{}, model.Fill{Side: model.SideBuy, Commission: 3})
	m.OnCancel(&model.Order{Reason: "margin"})

	if got := testutil.ToFloat64(m.BarsTotal); got != 2 {
		t.Errorf("bars = %v", got)
	}
	if got := testutil.ToFloat64(m.DrawdownPct); got != 10 {
		t.Errorf("drawdown = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BUY")); got != 1 {
		t.Errorf("signals = %v", got)
	}
	if got := testutil.ToFloat64(m.FillsTotal.WithLabelValues("BUY")); got != 1 {
		t.Errorf("fills = %v", got)
	}
	if got := testutil.ToFloat64(m.CancelsTotal.WithLabelValues("margin")); got != 1 {
		t.Errorf("cancels = %v", got)
	}
	if got := testutil.ToFloat64(m.Commission); got != 3 {
		t.Errorf("commission = %v", got)
	}
	if got := testutil.ToFloat64(m.Indicator.WithLabelValues("KDJ_9.K")); got != 55 {
		t.Errorf("indicator K = %v", got)
	}
	if n := testutil.CollectAndCount(m.Indicator); n != 1 {
		t.Errorf("undefined lines must not be exported, got %d series", n)
	}
	if health.BarsProcessed != 2 || !health.LastBarTime.Equal(ts.AddDate(0, 0, 1)) {
		t.Errorf("health = %+v", health)
	}
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	health := NewHealthStatus()
	m := NewMetrics(reg, health)
	m.BarsTotal.Add(5)
	srv := NewServer(":0", reg, health)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "kdj_bars_total 5") {
		t.Errorf("metrics: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body.Status != "healthy" {
		t.Errorf("healthz: %d %q", rec.Code, body.Status)
	}

	health.mu.Lock()
	health.SQLiteEnabled = true
	health.SQLiteOK = false
	health.mu.Unlock()
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with a failing sqlite, got %d", rec.Code)
	}
}
