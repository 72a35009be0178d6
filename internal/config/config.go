// Package config defines the top-level configuration for the market engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEJAVU_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive. Disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps requests per client IP per RateWindow. Zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// EngineConfig holds market engine tunables.
type EngineConfig struct {
	// PriceCacheTTL bounds staleness of cached price vectors.
	PriceCacheTTL duration `toml:"price_cache_ttl"`
}

// NotifyConfig holds notification channel credentials and event filtering.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML decoding from strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Modes the binary can run in.
const (
	ModeServer = "server"
	ModeSim    = "sim"
)

// Defaults returns the built-in configuration used before file and env
// overrides are applied.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dejavu",
			User:          "dejavu",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  0,
			RateWindow: duration{time.Second},
		},
		Engine: EngineConfig{
			PriceCacheTTL: duration{5 * time.Minute},
		},
		Mode:     ModeServer,
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case ModeServer, ModeSim:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}

	if c.Mode == ModeServer {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres host or dsn is required in server mode")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis addr is required in server mode")
		}
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		return fmt.Errorf("config: s3 region is required when a bucket is set")
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		return fmt.Errorf("config: telegram chat id is required when a token is set")
	}

	return nil
}
