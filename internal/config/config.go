// Package config loads and validates flashcrawl configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Live     LiveConfig     `mapstructure:"live"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Network  RetryConfig    `mapstructure:"network"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// UpstreamConfig identifies the deployment against the flash API.
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Channel        string `mapstructure:"channel"`
	VIP            string `mapstructure:"vip"`
	AppID          string `mapstructure:"app_id"`
	Version        string `mapstructure:"version"`
	UserAgent      string `mapstructure:"user_agent"`
	Cookie         string `mapstructure:"cookie"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BackfillConfig bounds historical import runs.
type BackfillConfig struct {
	MaxPages int `mapstructure:"max_pages"`
	PauseMs  int `mapstructure:"pause_ms"`
}

// LiveConfig governs the headless capture session.
type LiveConfig struct {
	URL               string `mapstructure:"url"`
	ImportantOnly     bool   `mapstructure:"important_only"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	BufferSize        int    `mapstructure:"buffer_size"`
	TTLMs             int    `mapstructure:"ttl_ms"`
}

// FilterConfig lists the promotional keywords dropped before persistence.
type FilterConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// RetryConfig shapes one retry executor.
type RetryConfig struct {
	MaxAttempts int  `mapstructure:"max_attempts"`
	BaseMs      int  `mapstructure:"base_ms"`
	MaxMs       int  `mapstructure:"max_ms"`
	Jitter      bool `mapstructure:"jitter"`
}

// StorageConfig controls access to Postgres, with its own retry shape.
type StorageConfig struct {
	DSN             string      `mapstructure:"dsn"`
	MaxConns        int32       `mapstructure:"max_conns"`
	MinConns        int32       `mapstructure:"min_conns"`
	ConnLifetimeMin int         `mapstructure:"conn_lifetime_minutes"`
	Source          string      `mapstructure:"source"`
	Retry           RetryConfig `mapstructure:"retry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLASHCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("upstream.base_url", "https://flash-api.jin10.com/get_flash_list")
	v.SetDefault("upstream.channel", "-8200")
	v.SetDefault("upstream.vip", "1")
	v.SetDefault("upstream.timeout_seconds", 30)
	// Keys with no meaningful default still need one: Unmarshal only decodes
	// keys viper enumerates, and automatic env lookup happens per known key.
	v.SetDefault("upstream.app_id", "")
	v.SetDefault("upstream.version", "")
	v.SetDefault("upstream.user_agent", "")
	v.SetDefault("upstream.cookie", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("backfill.max_pages", 2000)
	v.SetDefault("backfill.pause_ms", 300)
	v.SetDefault("live.url", "https://www.jin10.com/")
	v.SetDefault("live.important_only", false)
	v.SetDefault("live.nav_timeout_seconds", 45)
	v.SetDefault("live.buffer_size", 256)
	v.SetDefault("live.ttl_ms", 3000)
	v.SetDefault("filter.keywords", []string{"vip", "一览", "图示", "点击查看", "点击获取", "点击观看"})
	v.SetDefault("network.max_attempts", 5)
	v.SetDefault("network.base_ms", 800)
	v.SetDefault("network.max_ms", 30000)
	v.SetDefault("network.jitter", true)
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.conn_lifetime_minutes", 30)
	v.SetDefault("storage.source", "jin10")
	v.SetDefault("storage.retry.max_attempts", 5)
	v.SetDefault("storage.retry.base_ms", 300)
	v.SetDefault("storage.retry.max_ms", 5000)
	v.SetDefault("storage.retry.jitter", true)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if c.Backfill.MaxPages <= 0 {
		return fmt.Errorf("backfill.max_pages must be > 0")
	}
	if c.Live.TTLMs <= 0 {
		return fmt.Errorf("live.ttl_ms must be > 0")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set")
	}
	if c.Network.MaxAttempts <= 0 || c.Storage.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be > 0")
	}
	return nil
}

// UpstreamTimeout converts the upstream timeout into a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// BackfillPause converts the inter-page pause into a duration.
func (c Config) BackfillPause() time.Duration {
	return time.Duration(c.Backfill.PauseMs) * time.Millisecond
}

// LiveTTL converts the admission window into a duration.
func (c Config) LiveTTL() time.Duration {
	return time.Duration(c.Live.TTLMs) * time.Millisecond
}

// NavTimeout converts the navigation timeout into a duration.
func (c LiveConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// Delays converts a retry shape into base/max durations.
func (r RetryConfig) Delays() (base, max time.Duration) {
	return time.Duration(r.BaseMs) * time.Millisecond, time.Duration(r.MaxMs) * time.Millisecond
}
