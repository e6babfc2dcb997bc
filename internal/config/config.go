package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Manifold     ManifoldConfig `mapstructure:"manifold"`
	Storage      StorageConfig  `mapstructure:"storage"`
	History      HistoryConfig  `mapstructure:"history"`
	Digest       DigestConfig   `mapstructure:"digest"`
	Insight      InsightConfig  `mapstructure:"insight"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Server       ServerConfig   `mapstructure:"server"`
	Logging      LoggingConfig  `mapstructure:"logging"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
}

// ManifoldConfig holds Manifold Markets API configuration
type ManifoldConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PageSize     int           `mapstructure:"page_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	DetailLimit  int           `mapstructure:"detail_limit"`
	HydrateLimit int           `mapstructure:"hydrate_limit"`
	Query        string        `mapstructure:"query"`
}

// StorageConfig selects and configures the durable key-value backend
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisPrefix  string `mapstructure:"redis_prefix"`
	MaxSnapshots int    `mapstructure:"max_snapshots"`
}

// HistoryConfig holds lookback and backfill configuration
type HistoryConfig struct {
	LookbackDays        int `mapstructure:"lookback_days"`
	BackfillCandidates  int `mapstructure:"backfill_candidates"`
	BackfillPoints      int `mapstructure:"backfill_points"`
	BackfillConcurrency int `mapstructure:"backfill_concurrency"`
}

// DigestConfig holds digest sizing and volatility thresholds
type DigestConfig struct {
	TopMovers       int      `mapstructure:"top_movers"`
	ListLimit       int      `mapstructure:"list_limit"`
	StableThreshold float64  `mapstructure:"stable_threshold"`
	ActiveThreshold float64  `mapstructure:"active_threshold"`
	Categories      []string `mapstructure:"categories"`
}

// InsightConfig holds the optional LLM endpoint configuration
type InsightConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	MaxMarkets int           `mapstructure:"max_markets"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file next to the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// MARKETPULSE_MANIFOLD_BASE_URL overrides manifold.base_url, etc.
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", "5m")

	// Manifold defaults
	v.SetDefault("manifold.base_url", "https://api.manifold.markets/v0")
	v.SetDefault("manifold.page_size", 40)
	v.SetDefault("manifold.timeout", "30s")
	v.SetDefault("manifold.max_retries", 3)
	v.SetDefault("manifold.retry_delay", "1s")
	v.SetDefault("manifold.detail_limit", 6)
	v.SetDefault("manifold.hydrate_limit", 4)
	v.SetDefault("manifold.query", "")

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/marketpulse.db")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("storage.redis_prefix", "marketpulse:")
	v.SetDefault("storage.max_snapshots", 120)

	// History defaults
	v.SetDefault("history.lookback_days", 7)
	v.SetDefault("history.backfill_candidates", 20)
	v.SetDefault("history.backfill_points", 2)
	v.SetDefault("history.backfill_concurrency", 6)

	// Digest defaults
	v.SetDefault("digest.top_movers", 6)
	v.SetDefault("digest.list_limit", 10)
	v.SetDefault("digest.stable_threshold", 2.0)
	v.SetDefault("digest.active_threshold", 6.0)

	// Insight defaults
	v.SetDefault("insight.enabled", false)
	v.SetDefault("insight.base_url", "https://api.openai.com/v1")
	v.SetDefault("insight.model", "gpt-4o-mini")
	v.SetDefault("insight.max_markets", 20)
	v.SetDefault("insight.timeout", "60s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debounce", "500ms")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.PollInterval < 1*time.Minute {
		return fmt.Errorf("poll_interval must be at least 1 minute")
	}

	// Validate Manifold config
	if c.Manifold.BaseURL == "" {
		return fmt.Errorf("manifold.base_url is required")
	}
	if c.Manifold.PageSize < 1 || c.Manifold.PageSize > 1000 {
		return fmt.Errorf("manifold.page_size must be between 1 and 1000")
	}
	if c.Manifold.Timeout <= 0 {
		return fmt.Errorf("manifold.timeout must be positive")
	}
	if c.Manifold.MaxRetries < 0 {
		return fmt.Errorf("manifold.max_retries must not be negative")
	}
	if c.Manifold.DetailLimit < 0 || c.Manifold.HydrateLimit < 0 {
		return fmt.Errorf("manifold.detail_limit and manifold.hydrate_limit must not be negative")
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of: file, sqlite, redis, memory")
	}
	if c.Storage.MaxSnapshots < 2 {
		return fmt.Errorf("storage.max_snapshots must be at least 2")
	}

	// Validate History config
	if c.History.LookbackDays < 1 || c.History.LookbackDays > 365 {
		return fmt.Errorf("history.lookback_days must be between 1 and 365")
	}
	if c.History.BackfillCandidates < 1 {
		return fmt.Errorf("history.backfill_candidates must be at least 1")
	}
	if c.History.BackfillPoints < 1 {
		return fmt.Errorf("history.backfill_points must be at least 1")
	}
	if c.History.BackfillConcurrency < 1 {
		return fmt.Errorf("history.backfill_concurrency must be at least 1")
	}

	// Validate Digest config
	if c.Digest.TopMovers < 1 || c.Digest.ListLimit < 1 {
		return fmt.Errorf("digest.top_movers and digest.list_limit must be at least 1")
	}
	if c.Digest.StableThreshold < 0 || c.Digest.ActiveThreshold < c.Digest.StableThreshold {
		return fmt.Errorf("digest thresholds must satisfy 0 <= stable_threshold <= active_threshold")
	}

	// Validate Insight config
	if c.Insight.Enabled {
		if c.Insight.BaseURL == "" {
			return fmt.Errorf("insight.base_url is required when insight is enabled")
		}
		if c.Insight.Model == "" {
			return fmt.Errorf("insight.model is required when insight is enabled")
		}
		if c.Insight.APIKey == "" {
			return fmt.Errorf("insight.api_key is required when insight is enabled")
		}
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

	// Validate Server config
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
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
