package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vov-code/polymarket-bot/internal/fetch"
	"github.com/vov-code/polymarket-bot/internal/monitor"
	"github.com/vov-code/polymarket-bot/internal/polymarket"
)

// EnvPrefix prefixes every environment override, e.g. POLYSIGNAL_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "POLYSIGNAL"

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Signals    SignalsConfig    `mapstructure:"signals"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds catalog and upstream fetch configuration
type PolymarketConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Category          string        `mapstructure:"category"`
	EventsLimit       int           `mapstructure:"events_limit"`
	PageSize          int           `mapstructure:"page_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	MinLiquidity      float64       `mapstructure:"min_liquidity"`
	EndDateMaxPast    time.Duration `mapstructure:"end_date_max_past"`
	IgnoreWords       []string      `mapstructure:"ignore_words"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBase         time.Duration `mapstructure:"retry_base"`
	AlternateRouteURL string        `mapstructure:"alternate_route_url"` // proxy used when the direct route is blocked
	FallbackWindow    time.Duration `mapstructure:"fallback_window"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type VolumeSpikeConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MinDeltaUSD   float64 `mapstructure:"min_delta_usd"`
	MinPctOfTotal float64 `mapstructure:"min_pct_of_total"`
}

type BigBuyConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MinDeltaUSD   float64 `mapstructure:"min_delta_usd"`
	MinPctOfTotal float64 `mapstructure:"min_pct_of_total"`
	MinPriceMove  float64 `mapstructure:"min_price_move"`
}

type PriceChangeConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	MinAbsMove  float64 `mapstructure:"min_abs_move"`
	MinDeltaUSD float64 `mapstructure:"min_delta_usd"`
	ScoreScale  float64 `mapstructure:"score_scale"`
}

type NewMarketConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MinVolumeUSD    float64       `mapstructure:"min_volume_usd"`
	MinLiquidityUSD float64       `mapstructure:"min_liquidity_usd"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

// SignalsConfig holds detection thresholds
type SignalsConfig struct {
	VolumeSpike VolumeSpikeConfig `mapstructure:"volume_spike"`
	BigBuy      BigBuyConfig      `mapstructure:"big_buy"`
	PriceChange PriceChangeConfig `mapstructure:"price_change"`
	NewMarket   NewMarketConfig   `mapstructure:"new_market"`
}

// AlertsConfig holds dispatch limits
type AlertsConfig struct {
	MaxPerCycle int           `mapstructure:"max_per_cycle"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig holds state snapshot and journal configuration
type StorageConfig struct {
	StateFile        string        `mapstructure:"state_file"`
	DBPath           string        `mapstructure:"db_path"`
	Retention        time.Duration `mapstructure:"retention"`
	JournalRetention time.Duration `mapstructure:"journal_retention"`
	OverridesFile    string        `mapstructure:"overrides_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env file
// (or the file named by ENV_FILE) is loaded first without overriding
// variables already set. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	loadDotenv()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Polymarket.BaseURL = strings.TrimRight(cfg.Polymarket.BaseURL, "/")

	return &cfg, nil
}

func loadDotenv() {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
		return
	}
	_ = godotenv.Load()
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.category", "")
	v.SetDefault("polymarket.events_limit", 3000)
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.concurrency", polymarket.DefaultConcurrency)
	v.SetDefault("polymarket.min_liquidity", 0.0)
	v.SetDefault("polymarket.end_date_max_past", "12h")
	v.SetDefault("polymarket.ignore_words", []string{})
	v.SetDefault("polymarket.poll_interval", "60s")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 5)
	v.SetDefault("polymarket.retry_base", "750ms")
	v.SetDefault("polymarket.alternate_route_url", "")
	v.SetDefault("polymarket.fallback_window", "15m")
	v.SetDefault("polymarket.user_agent", "polysignal/1.0")

	// Signal defaults
	v.SetDefault("signals.volume_spike.enabled", true)
	v.SetDefault("signals.volume_spike.min_delta_usd", 20000.0)
	v.SetDefault("signals.volume_spike.min_pct_of_total", 0.25)
	v.SetDefault("signals.big_buy.enabled", true)
	v.SetDefault("signals.big_buy.min_delta_usd", 10000.0)
	v.SetDefault("signals.big_buy.min_pct_of_total", 0.10)
	v.SetDefault("signals.big_buy.min_price_move", 0.08)
	v.SetDefault("signals.price_change.enabled", true)
	v.SetDefault("signals.price_change.min_abs_move", 0.15)
	v.SetDefault("signals.price_change.min_delta_usd", 1000.0)
	v.SetDefault("signals.price_change.score_scale", 100000.0)
	v.SetDefault("signals.new_market.enabled", true)
	v.SetDefault("signals.new_market.min_volume_usd", 1.0)
	v.SetDefault("signals.new_market.min_liquidity_usd", 0.0)
	v.SetDefault("signals.new_market.max_age", "24h")

	// Alert defaults
	v.SetDefault("alerts.max_per_cycle", 10)
	v.SetDefault("alerts.cooldown", "30m")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	// Storage defaults
	v.SetDefault("storage.state_file", "./data/state.json")
	v.SetDefault("storage.db_path", "./data/journal.db")
	v.SetDefault("storage.retention", "180m")
	v.SetDefault("storage.journal_retention", "168h")
	v.SetDefault("storage.overrides_file", "./data/overrides.json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.BaseURL == "" {
		return fmt.Errorf("polymarket.base_url is required")
	}
	if u, err := url.Parse(c.Polymarket.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("polymarket.base_url must be an absolute URL")
	}
	if c.Polymarket.EventsLimit < 1 {
		return fmt.Errorf("polymarket.events_limit must be at least 1")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 500 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 500")
	}
	if c.Polymarket.Concurrency < 1 || c.Polymarket.Concurrency > 32 {
		return fmt.Errorf("polymarket.concurrency must be between 1 and 32")
	}
	if c.Polymarket.MinLiquidity < 0 {
		return fmt.Errorf("polymarket.min_liquidity must not be negative")
	}
	if c.Polymarket.EndDateMaxPast < 0 {
		return fmt.Errorf("polymarket.end_date_max_past must not be negative")
	}
	if c.Polymarket.PollInterval < 5*time.Second {
		return fmt.Errorf("polymarket.poll_interval must be at least 5 seconds")
	}
	if c.Polymarket.Timeout < time.Second {
		return fmt.Errorf("polymarket.timeout must be at least 1 second")
	}
	if c.Polymarket.MaxRetries < 0 || c.Polymarket.MaxRetries > 10 {
		return fmt.Errorf("polymarket.max_retries must be between 0 and 10")
	}
	if c.Polymarket.RetryBase < 50*time.Millisecond {
		return fmt.Errorf("polymarket.retry_base must be at least 50ms")
	}
	if c.Polymarket.AlternateRouteURL != "" {
		if u, err := url.Parse(c.Polymarket.AlternateRouteURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("polymarket.alternate_route_url must be an absolute URL")
		}
	}
	if c.Polymarket.FallbackWindow < time.Minute {
		return fmt.Errorf("polymarket.fallback_window must be at least 1 minute")
	}

	// Validate Signals config
	s := c.Signals
	if s.VolumeSpike.MinDeltaUSD < 0 || s.BigBuy.MinDeltaUSD < 0 || s.PriceChange.MinDeltaUSD < 0 {
		return fmt.Errorf("signals.*.min_delta_usd must not be negative")
	}
	if !isFraction(s.VolumeSpike.MinPctOfTotal) {
		return fmt.Errorf("signals.volume_spike.min_pct_of_total must be between 0 and 1")
	}
	if !isFraction(s.BigBuy.MinPctOfTotal) {
		return fmt.Errorf("signals.big_buy.min_pct_of_total must be between 0 and 1")
	}
	if !isFraction(s.BigBuy.MinPriceMove) {
		return fmt.Errorf("signals.big_buy.min_price_move must be between 0 and 1")
	}
	if !isFraction(s.PriceChange.MinAbsMove) {
		return fmt.Errorf("signals.price_change.min_abs_move must be between 0 and 1")
	}
	if s.PriceChange.ScoreScale <= 0 {
		return fmt.Errorf("signals.price_change.score_scale must be positive")
	}
	if s.NewMarket.MinVolumeUSD < 0 || s.NewMarket.MinLiquidityUSD < 0 {
		return fmt.Errorf("signals.new_market floors must not be negative")
	}
	if s.NewMarket.MaxAge < 0 {
		return fmt.Errorf("signals.new_market.max_age must not be negative")
	}

	// Validate Alerts config
	if c.Alerts.MaxPerCycle < 1 {
		return fmt.Errorf("alerts.max_per_cycle must be at least 1")
	}
	if c.Alerts.Cooldown < time.Minute {
		return fmt.Errorf("alerts.cooldown must be at least 1 minute")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.StateFile == "" {
		return fmt.Errorf("storage.state_file is required")
	}
	if floor := monitor.MinRetention(c.Polymarket.PollInterval); c.Storage.Retention < floor {
		return fmt.Errorf("storage.retention must be at least %s to cover the %s lookback", floor, monitor.VolumeSpikeWindow)
	}
	if c.Storage.JournalRetention < 0 {
		return fmt.Errorf("storage.journal_retention must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func isFraction(v float64) bool {
	return v >= 0 && v <= 1
}

// MonitorConfig returns the scan-cycle settings.
func (c *Config) MonitorConfig() monitor.Config {
	s := c.Signals
	return monitor.Config{
		Signals: monitor.SignalConfig{
			PollInterval: c.Polymarket.PollInterval,
			VolumeSpike:  monitor.VolumeSpikeConfig(s.VolumeSpike),
			BigBuy:       monitor.BigBuyConfig(s.BigBuy),
			PriceChange:  monitor.PriceChangeConfig(s.PriceChange),
			NewMarket:    monitor.NewMarketConfig(s.NewMarket),
		},
		Retention:         c.Storage.Retention,
		MaxAlertsPerCycle: c.Alerts.MaxPerCycle,
		Cooldown:          c.Alerts.Cooldown,
		JournalRetention:  c.Storage.JournalRetention,
	}
}

// CatalogConfig returns the catalog pagination and filter settings.
func (c *Config) CatalogConfig() polymarket.CatalogConfig {
	p := c.Polymarket
	return polymarket.CatalogConfig{
		BaseURL:      p.BaseURL,
		Category:     p.Category,
		EventsLimit:  p.EventsLimit,
		PageSize:     p.PageSize,
		Concurrency:  p.Concurrency,
		PollInterval: p.PollInterval,
		Filter: polymarket.Filter{
			MinLiquidity:   p.MinLiquidity,
			EndDateMaxPast: p.EndDateMaxPast,
			IgnoreWords:    p.IgnoreWords,
		},
	}
}

// ClientConfig returns the HTTP transport settings.
func (c *Config) ClientConfig() fetch.ClientConfig {
	return fetch.ClientConfig{
		Timeout:           c.Polymarket.Timeout,
		AlternateRouteURL: c.Polymarket.AlternateRouteURL,
		UserAgent:         c.Polymarket.UserAgent,
	}
}

// RetryConfig returns the backoff settings for upstream calls.
func (c *Config) RetryConfig() fetch.RetryConfig {
	rc := fetch.DefaultRetryConfig()
	rc.MaxRetries = c.Polymarket.MaxRetries
	rc.BaseDelay = c.Polymarket.RetryBase
	return rc
}
