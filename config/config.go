package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the run configuration loaded from environment variables.
// Command-line flags in cmd/ override individual fields.
type Config struct {
	// Strategy
	Strategy     string // "kdj" or "macd"
	Symbol       string
	CashFraction float64
	KDJPeriod    int
	KDJKPeriod   int
	KDJDPeriod   int

	// Paper broker
	Cash           float64
	CommissionPerc float64
	FillDelayBars  int
	CancelAtEnd    bool

	// Infrastructure (empty disables the component)
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	WSAddr        string

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads configuration from environment variables with defaults.
// Unparseable numbers are logged and replaced by their default.
func Load() *Config {
	return &Config{
		Strategy:     strings.ToLower(getEnv("STRATEGY", "kdj")),
		Symbol:       getEnv("SYMBOL", ""),
		CashFraction: getEnvFloat("CASH_FRACTION", 0.2),
		KDJPeriod:    getEnvInt("KDJ_PERIOD", 9),
		KDJKPeriod:   getEnvInt("KDJ_K_PERIOD", 3),
		KDJDPeriod:   getEnvInt("KDJ_D_PERIOD", 3),

		Cash:           getEnvFloat("CASH", 50000),
		CommissionPerc: getEnvFloat("COMMISSION_PERC", 0.0003),
		FillDelayBars:  getEnvInt("FILL_DELAY_BARS", 0),
		CancelAtEnd:    getEnvBool("CANCEL_AT_END", true),

		SQLitePath:    getEnv("SQLITE_PATH", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		WSAddr:        getEnv("WS_ADDR", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports every out-of-range value in one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Strategy != "kdj" && c.Strategy != "macd" {
		errs = append(errs, fmt.Errorf("strategy %q: want kdj or macd", c.Strategy))
	}
	if c.CashFraction <= 0 || c.CashFraction > 1 {
		errs = append(errs, fmt.Errorf("cash fraction %v: want (0, 1]", c.CashFraction))
	}
	if c.KDJPeriod < 1 || c.KDJKPeriod < 1 || c.KDJDPeriod < 1 {
		errs = append(errs, fmt.Errorf("kdj periods %d/%d/%d: want >= 1", c.KDJPeriod, c.KDJKPeriod, c.KDJDPeriod))
	}
	if c.Cash < 0 {
		errs = append(errs, fmt.Errorf("cash %v: negative", c.Cash))
	}
	if c.CommissionPerc < 0 {
		errs = append(errs, fmt.Errorf("commission %v: negative", c.CommissionPerc))
	}
	if c.FillDelayBars < 0 {
		errs = append(errs, fmt.Errorf("fill delay %d: negative", c.FillDelayBars))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("telegram needs both bot token and chat id"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
