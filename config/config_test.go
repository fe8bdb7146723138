package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STRATEGY", "CASH", "CASH_FRACTION", "COMMISSION_PERC", "KDJ_PERIOD", "FILL_DELAY_BARS", "CANCEL_AT_END", "SQLITE_PATH"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Strategy != "kdj" || cfg.Cash != 50000 || cfg.CashFraction != 0.2 || cfg.CommissionPerc != 0.0003 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.KDJPeriod != 9 || cfg.KDJKPeriod != 3 || cfg.KDJDPeriod != 3 || cfg.FillDelayBars != 0 || !cfg.CancelAtEnd {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.SQLitePath != "" {
		t.Errorf("sqlite should be disabled by default, got %q", cfg.SQLitePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STRATEGY", "MACD")
	t.Setenv("CASH", "100000")
	t.Setenv("KDJ_PERIOD", "14")
	t.Setenv("FILL_DELAY_BARS", "1")
	t.Setenv("CANCEL_AT_END", "false")
	t.Setenv("CASH_FRACTION", "lots") // invalid, falls back

	cfg := Load()
	if cfg.Strategy != "macd" || cfg.Cash != 100000 || cfg.KDJPeriod != 14 || cfg.FillDelayBars != 1 || cfg.CancelAtEnd {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CashFraction != 0.2 {
		t.Errorf("invalid CASH_FRACTION should fall back to 0.2, got %v", cfg.CashFraction)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("STRATEGY", "")
		return Load()
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"fraction zero", func(c *Config) { c.CashFraction = 0 }, "cash fraction"},
		{"fraction above one", func(c *Config) { c.CashFraction = 1.5 }, "cash fraction"},
		{"period", func(c *Config) { c.KDJPeriod = 0 }, "kdj periods"},
		{"cash", func(c *Config) { c.Cash = -1 }, "cash -1"},
		{"commission", func(c *Config) { c.CommissionPerc = -0.1 }, "commission"},
		{"delay", func(c *Config) { c.FillDelayBars = -2 }, "fill delay"},
		{"strategy", func(c *Config) { c.Strategy = "rsi" }, "strategy"},
		{"telegram", func(c *Config) { c.TelegramBotToken = "x"; c.TelegramChatID = "" }, "telegram"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kdj.yaml")
	yml := `
strategy:
  name: MACD
  symbol: HK.00700
  kdj_period: 14
broker:
  cash: 80000
  cancel_at_end: false
infra:
  sqlite_path: data/bars.db
log_level: debug
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"STRATEGY", "SYMBOL", "KDJ_PERIOD", "CASH", "CANCEL_AT_END", "SQLITE_PATH", "LOG_LEVEL", "CASH_FRACTION"} {
		t.Setenv(k, "")
	}
	t.Setenv("CASH", "90000") // environment beats the file

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy != "macd" || cfg.Symbol != "HK.00700" || cfg.KDJPeriod != 14 {
		t.Errorf("strategy section not applied: %+v", cfg)
	}
	if cfg.Cash != 90000 {
		t.Errorf("CASH env should win, got %v", cfg.Cash)
	}
	if cfg.CancelAtEnd || cfg.SQLitePath != "data/bars.db" || cfg.LogLevel != "debug" {
		t.Errorf("broker/infra not applied: %+v", cfg)
	}
	if cfg.CashFraction != 0.2 {
		t.Errorf("absent key should keep the default, got %v", cfg.CashFraction)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("strategy: [unclosed"), 0o644)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected parse error")
	}
	cfg, err := LoadFile("")
	if err != nil || cfg == nil {
		t.Errorf("empty path should fall back to Load: %v", err)
	}
}
