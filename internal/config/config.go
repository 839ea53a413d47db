// Package config provides configuration management for the trading pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
}

// TradingConfig holds the coordinator's scheduling configuration.
type TradingConfig struct {
	Symbols          []string `mapstructure:"symbols"`
	Timeframes       []string `mapstructure:"timeframes"`
	AnalysisInterval int      `mapstructure:"analysis_interval_seconds"`
	AutoTrade        bool     `mapstructure:"auto_trade"`
	MagicNumber      int64    `mapstructure:"magic_number"`
	OrderTimeout     int      `mapstructure:"order_timeout_seconds"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxRiskPerTradePct float64 `mapstructure:"max_risk_per_trade_pct"`
	DailyRiskLimitPct  float64 `mapstructure:"daily_risk_limit_pct"`
	MinRiskReward      float64 `mapstructure:"min_risk_reward"`
}

// VenueConfig holds the MT5 bridge connection configuration.
type VenueConfig struct {
	Mode           string `mapstructure:"mode"` // "paper", "live"
	Endpoint       string `mapstructure:"endpoint"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// AnalysisConfig selects and configures the market analyzer.
type AnalysisConfig struct {
	Engine       string `mapstructure:"engine"` // "technical", "llm"
	Model        string `mapstructure:"model"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/mt5-trader"
	}
	return filepath.Join(home, ".config", "mt5-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// No config file: run on defaults.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.symbols", []string{"EURUSD", "GBPUSD", "USDJPY"})
	v.SetDefault("trading.timeframes", []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"})
	v.SetDefault("trading.analysis_interval_seconds", 300)
	v.SetDefault("trading.auto_trade", false)
	v.SetDefault("trading.magic_number", 123456)
	v.SetDefault("trading.order_timeout_seconds", 30)

	v.SetDefault("risk.max_risk_per_trade_pct", 2.0)
	v.SetDefault("risk.daily_risk_limit_pct", 5.0)
	v.SetDefault("risk.min_risk_reward", 1.0)

	v.SetDefault("venue.mode", "paper")
	v.SetDefault("venue.endpoint", "tcp://127.0.0.1:5555")
	v.SetDefault("venue.request_timeout_seconds", 10)

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "trader.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9101")

	v.SetDefault("analysis.engine", "technical")
	v.SetDefault("analysis.model", "gpt-4o")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MT5_TRADER_SYMBOLS"); v != "" {
		cfg.Trading.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("MT5_TRADER_MODE"); v != "" {
		cfg.Venue.Mode = v
	}
	if v := os.Getenv("MT5_TRADER_ENDPOINT"); v != "" {
		cfg.Venue.Endpoint = v
	}
	if v := os.Getenv("MT5_TRADER_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MT5_TRADER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Analysis.OpenAIAPIKey == "" {
		cfg.Analysis.OpenAIAPIKey = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Venue.Mode != "paper" && c.Venue.Mode != "live" {
		return fmt.Errorf("invalid venue mode: %s (must be 'paper' or 'live')", c.Venue.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	if len(c.Trading.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe must be configured")
	}
	if c.Trading.AnalysisInterval <= 0 {
		return fmt.Errorf("analysis_interval_seconds must be positive")
	}
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("max_risk_per_trade_pct must be between 0 and 100")
	}
	if c.Risk.DailyRiskLimitPct <= 0 || c.Risk.DailyRiskLimitPct > 100 {
		return fmt.Errorf("daily_risk_limit_pct must be between 0 and 100")
	}
	if c.Risk.MinRiskReward < 0 {
		return fmt.Errorf("min_risk_reward must be non-negative")
	}
	if c.Analysis.Engine != "technical" && c.Analysis.Engine != "llm" {
		return fmt.Errorf("invalid analysis engine: %s (must be 'technical' or 'llm')", c.Analysis.Engine)
	}
	if c.Analysis.Engine == "llm" && c.Analysis.OpenAIAPIKey == "" {
		return fmt.Errorf("analysis engine 'llm' requires an OpenAI API key")
	}
	return nil
}

// AnalysisIntervalDuration returns the debounce interval between analyses.
func (c *Config) AnalysisIntervalDuration() time.Duration {
	return time.Duration(c.Trading.AnalysisInterval) * time.Second
}

// OrderTimeoutDuration returns how long to wait for a venue confirmation.
func (c *Config) OrderTimeoutDuration() time.Duration {
	return time.Duration(c.Trading.OrderTimeout) * time.Second
}

// IsPaperMode returns true if the simulated venue is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Venue.Mode == "paper"
}
