package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	if Init("test-service", slog.LevelInfo) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "backtest", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("run complete", "trades", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "backtest" || rec["msg"] != "run complete" || rec["trades"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}
	if attrs := LogWithRun(ctx); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}

	ctx = WithRunID(ctx, "kdj-NIFTY-1")
	if id := RunID(ctx); id != "kdj-NIFTY-1" {
		t.Errorf("got %q", id)
	}
	if attrs := LogWithRun(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
}

func TestGenerateRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := GenerateRunID("kdj", "NIFTY", ts)
	if !strings.HasPrefix(id, "kdj-NIFTY-") || !strings.HasSuffix(id, "123456789") {
		t.Errorf("unexpected run id %s", id)
	}
}
