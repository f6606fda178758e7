// Package config defines all configuration for the DCA decision engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via DCA_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Store   StoreConfig   `mapstructure:"store"`
	Journal JournalConfig `mapstructure:"journal"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener the terminal and UI talk to.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// EngineConfig tunes the decision loop.
//
//   - Symbol: the instrument this engine manages; ticks for other symbols
//     are rejected.
//   - GracePeriod: the sync-shield window after an emitted order during
//     which "position missing" reports from the terminal are disregarded.
//   - HistorySize: mid-price samples kept for the UI chart.
type EngineConfig struct {
	Symbol      string        `mapstructure:"symbol"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	HistorySize int           `mapstructure:"history_size"`
}

// StoreConfig sets where the state snapshot is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// JournalConfig controls the SQLite action journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotifyConfig controls the outbound alert webhook. An empty URL disables
// notifications entirely.
type NotifyConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with DCA_* env var overrides
// (e.g. DCA_SERVER_PORT, DCA_STORE_DATA_DIR).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8000)
	v.SetDefault("engine.grace_period", 5*time.Second)
	v.SetDefault("engine.history_size", 100)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "data/journal.db")
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.rate_per_minute", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Engine.GracePeriod <= 0 {
		return fmt.Errorf("engine.grace_period must be > 0")
	}
	if c.Engine.HistorySize <= 0 {
		return fmt.Errorf("engine.history_size must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal.enabled")
	}
	if c.Notify.WebhookURL != "" && c.Notify.RatePerMinute <= 0 {
		return fmt.Errorf("notify.rate_per_minute must be > 0")
	}
	return nil
}
