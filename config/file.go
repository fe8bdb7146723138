package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout. Pointer fields tell "absent" from zero.
type fileConfig struct {
	Strategy struct {
		Name         *string  `yaml:"name"`
		Symbol       *string  `yaml:"symbol"`
		CashFraction *float64 `yaml:"cash_fraction"`
		KDJPeriod    *int     `yaml:"kdj_period"`
		KDJKPeriod   *int     `yaml:"kdj_k_period"`
		KDJDPeriod   *int     `yaml:"kdj_d_period"`
	} `yaml:"strategy"`

	Broker struct {
		Cash           *float64 `yaml:"cash"`
		CommissionPerc *float64 `yaml:"commission_perc"`
		FillDelayBars  *int     `yaml:"fill_delay_bars"`
		CancelAtEnd    *bool    `yaml:"cancel_at_end"`
	} `yaml:"broker"`

	Infra struct {
		SQLitePath    *string `yaml:"sqlite_path"`
		RedisAddr     *string `yaml:"redis_addr"`
		RedisPassword *string `yaml:"redis_password"`
		MetricsAddr   *string `yaml:"metrics_addr"`
		WSAddr        *string `yaml:"ws_addr"`
	} `yaml:"infra"`

	Notify struct {
		WebhookURL       *string `yaml:"webhook_url"`
		TelegramBotToken *string `yaml:"telegram_bot_token"`
		TelegramChatID   *string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`

	LogLevel *string `yaml:"log_level"`
}

// LoadFile layers a YAML file between the defaults and the environment:
// a value from the file is used unless its environment variable is set.
// An empty path is the same as Load.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	overlay("STRATEGY", &cfg.Strategy, fc.Strategy.Name)
	cfg.Strategy = strings.ToLower(cfg.Strategy)
	overlay("SYMBOL", &cfg.Symbol, fc.Strategy.Symbol)
	overlay("CASH_FRACTION", &cfg.CashFraction, fc.Strategy.CashFraction)
	overlay("KDJ_PERIOD", &cfg.KDJPeriod, fc.Strategy.KDJPeriod)
	overlay("KDJ_K_PERIOD", &cfg.KDJKPeriod, fc.Strategy.KDJKPeriod)
	overlay("KDJ_D_PERIOD", &cfg.KDJDPeriod, fc.Strategy.KDJDPeriod)

	overlay("CASH", &cfg.Cash, fc.Broker.Cash)
	overlay("COMMISSION_PERC", &cfg.CommissionPerc, fc.Broker.CommissionPerc)
	overlay("FILL_DELAY_BARS", &cfg.FillDelayBars, fc.Broker.FillDelayBars)
	overlay("CANCEL_AT_END", &cfg.CancelAtEnd, fc.Broker.CancelAtEnd)

	overlay("SQLITE_PATH", &cfg.SQLitePath, fc.Infra.SQLitePath)
	overlay("REDIS_ADDR", &cfg.RedisAddr, fc.Infra.RedisAddr)
	overlay("REDIS_PASSWORD", &cfg.RedisPassword, fc.Infra.RedisPassword)
	overlay("METRICS_ADDR", &cfg.MetricsAddr, fc.Infra.MetricsAddr)
	overlay("WS_ADDR", &cfg.WSAddr, fc.Infra.WSAddr)

	overlay("WEBHOOK_URL", &cfg.WebhookURL, fc.Notify.WebhookURL)
	overlay("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken, fc.Notify.TelegramBotToken)
	overlay("TELEGRAM_CHAT_ID", &cfg.TelegramChatID, fc.Notify.TelegramChatID)

	overlay("LOG_LEVEL", &cfg.LogLevel, fc.LogLevel)
	return cfg, nil
}

func overlay[T any](envKey string, dst *T, v *T) {
	if v != nil && os.Getenv(envKey) == "" {
		*dst = *v
	}
}
