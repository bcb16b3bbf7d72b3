// Package config loads bot settings from an optional YAML file, a .env
// file, and process environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"polyarb/internal/book"
)

// Settings is the full runtime configuration. Monetary values carry their
// raw decimal form in YAML/env and are exposed in micros.
type Settings struct {
	// Polymarket API
	ClobURL       string `yaml:"clob_url"`
	GammaURL      string `yaml:"gamma_url"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	APIPassphrase string `yaml:"api_passphrase"`
	APIAddress    string `yaml:"api_address"`
	MarketSlug    string `yaml:"market_slug"`

	// Pure arbitrage
	TargetPairCost   string `yaml:"target_pair_cost"`
	PureArbOrderSize string `yaml:"pure_arb_order_size"`

	// Temporal arbitrage
	TemporalArbEnabled             bool   `yaml:"temporal_arb_enabled"`
	TemporalArbOrderSize           string `yaml:"temporal_arb_order_size"`
	TemporalArbConfidenceThreshold string `yaml:"temporal_arb_confidence_threshold"`
	TemporalArbPriceThreshold      string `yaml:"temporal_arb_price_threshold"`

	// CEX price feed
	BinanceEnabled   bool   `yaml:"binance_enabled"`
	BinanceStreamURL string `yaml:"binance_stream_url"`

	// General
	OrderType       string  `yaml:"order_type"`
	DryRun          bool    `yaml:"dry_run"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	ScanSeconds     float64 `yaml:"scan_seconds"`
	SimBalance      string  `yaml:"sim_balance"`

	// Risk management
	MaxDailyLoss    string `yaml:"max_daily_loss"`
	MaxPositionSize string `yaml:"max_position_size"`
	MaxSingleBet    string `yaml:"max_single_bet"`
	RiskStatePath   string `yaml:"risk_state_path"`
	RedisURL        string `yaml:"redis_url"`

	// Telegram
	TelegramEnabled  bool   `yaml:"telegram_enabled"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	TradeLog    string `yaml:"trade_log"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaults() Settings {
	return Settings{
		ClobURL:  "https://clob.polymarket.com",
		GammaURL: "https://gamma-api.polymarket.com",

		TargetPairCost:   "0.993",
		PureArbOrderSize: "50",

		TemporalArbEnabled:             true,
		TemporalArbOrderSize:           "100",
		TemporalArbConfidenceThreshold: "0.70",
		TemporalArbPriceThreshold:      "0.55",

		BinanceEnabled: true,

		OrderType:       "FOK",
		DryRun:          true,
		CooldownSeconds: 5,
		ScanSeconds:     3,
		SimBalance:      "1000",

		MaxDailyLoss:    "500",
		MaxPositionSize: "5000",
		MaxSingleBet:    "500",
		RiskStatePath:   "risk_state.json",

		MetricsAddr: ":9100",
		TradeLog:    "trades.jsonl",

		LogLevel: "info",
	}
}

// Load builds Settings from defaults, then the YAML file at path (when
// non-empty), then .env via godotenv, then the environment.
func Load(path string) (Settings, error) {
	s := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Settings{}, fmt.Errorf("load .env: %w", err)
	}

	s.applyEnv()
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	setStr(&s.ClobURL, "CLOB_URL")
	setStr(&s.GammaURL, "GAMMA_URL")
	setStr(&s.APIKey, "POLYMARKET_API_KEY", "CLOB_API_KEY")
	setStr(&s.APISecret, "POLYMARKET_API_SECRET", "CLOB_SECRET")
	setStr(&s.APIPassphrase, "POLYMARKET_API_PASSPHRASE", "CLOB_PASSPHRASE")
	setStr(&s.APIAddress, "POLYMARKET_ADDRESS")
	setStr(&s.MarketSlug, "POLYMARKET_MARKET_SLUG", "MARKET_SLUG")

	setStr(&s.TargetPairCost, "TARGET_PAIR_COST")
	setStr(&s.PureArbOrderSize, "PURE_ARB_ORDER_SIZE")

	setBool(&s.TemporalArbEnabled, "TEMPORAL_ARB_ENABLED")
	setStr(&s.TemporalArbOrderSize, "TEMPORAL_ARB_ORDER_SIZE")
	setStr(&s.TemporalArbConfidenceThreshold, "TEMPORAL_ARB_CONFIDENCE_THRESHOLD")
	setStr(&s.TemporalArbPriceThreshold, "TEMPORAL_ARB_PRICE_THRESHOLD")

	setBool(&s.BinanceEnabled, "BINANCE_ENABLED")
	setStr(&s.BinanceStreamURL, "BINANCE_STREAM_URL")

	setStr(&s.OrderType, "ORDER_TYPE")
	setBool(&s.DryRun, "DRY_RUN")
	setFloat(&s.CooldownSeconds, "COOLDOWN_SECONDS")
	setFloat(&s.ScanSeconds, "SCAN_SECONDS")
	setStr(&s.SimBalance, "SIM_BALANCE")

	setStr(&s.MaxDailyLoss, "MAX_DAILY_LOSS")
	setStr(&s.MaxPositionSize, "MAX_POSITION_SIZE")
	setStr(&s.MaxSingleBet, "MAX_SINGLE_BET")
	setStr(&s.RiskStatePath, "RISK_STATE_PATH")
	setStr(&s.RedisURL, "REDIS_URL")

	setBool(&s.TelegramEnabled, "TELEGRAM_ENABLED")
	setStr(&s.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&s.TelegramChatID, "TELEGRAM_CHAT_ID")

	setStr(&s.MetricsAddr, "METRICS_ADDR")
	setStr(&s.TradeLog, "TRADE_LOG")

	setStr(&s.LogLevel, "LOG_LEVEL")
	setStr(&s.LogFile, "LOG_FILE")

	s.OrderType = strings.ToUpper(strings.TrimSpace(s.OrderType))
}

func (s Settings) validate() error {
	monetary := map[string]string{
		"target_pair_cost":                  s.TargetPairCost,
		"pure_arb_order_size":               s.PureArbOrderSize,
		"temporal_arb_order_size":           s.TemporalArbOrderSize,
		"temporal_arb_price_threshold":      s.TemporalArbPriceThreshold,
		"sim_balance":                       s.SimBalance,
		"max_daily_loss":                    s.MaxDailyLoss,
		"max_position_size":                 s.MaxPositionSize,
		"max_single_bet":                    s.MaxSingleBet,
		"temporal_arb_confidence_threshold": s.TemporalArbConfidenceThreshold,
	}
	for name, v := range monetary {
		if _, err := book.ParseMicros(v); err != nil {
			return fmt.Errorf("config %s=%q: %w", name, v, err)
		}
	}
	switch s.OrderType {
	case "FOK", "GTC", "FAK":
	default:
		return fmt.Errorf("config order_type=%q: must be FOK, GTC or FAK", s.OrderType)
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("config cooldown_seconds must be >= 0")
	}
	if s.ScanSeconds <= 0 {
		return fmt.Errorf("config scan_seconds must be > 0")
	}
	return nil
}

// Micros helpers. validate ran at load time, so parse failures here mean a
// programming error and map to zero.

func micros(v string) uint64 {
	m, err := book.ParseMicros(v)
	if err != nil {
		return 0
	}
	return m
}

func (s Settings) TargetPairCostMicros() uint64       { return micros(s.TargetPairCost) }
func (s Settings) PureArbOrderSizeMicros() uint64     { return micros(s.PureArbOrderSize) }
func (s Settings) TemporalArbOrderSizeMicros() uint64 { return micros(s.TemporalArbOrderSize) }
func (s Settings) TemporalArbPriceCapMicros() uint64  { return micros(s.TemporalArbPriceThreshold) }
func (s Settings) SimBalanceMicros() uint64           { return micros(s.SimBalance) }
func (s Settings) MaxDailyLossMicros() uint64         { return micros(s.MaxDailyLoss) }
func (s Settings) MaxPositionSizeMicros() uint64      { return micros(s.MaxPositionSize) }
func (s Settings) MaxSingleBetMicros() uint64         { return micros(s.MaxSingleBet) }

func (s Settings) TemporalArbConfidenceMin() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s.TemporalArbConfidenceThreshold), 64)
	if err != nil {
		return 0
	}
	return f
}

func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds * float64(time.Second))
}

func (s Settings) ScanInterval() time.Duration {
	return time.Duration(s.ScanSeconds * float64(time.Second))
}

func setStr(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func setBool(dst *bool, key string) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return
	}
	switch v {
	case "true", "1", "yes":
		*dst = true
	default:
		*dst = false
	}
}

func setFloat(dst *float64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
