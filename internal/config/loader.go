package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEJAVU_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEJAVU_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEJAVU_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEJAVU_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEJAVU_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEJAVU_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEJAVU_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEJAVU_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEJAVU_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEJAVU_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEJAVU_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEJAVU_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEJAVU_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEJAVU_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEJAVU_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEJAVU_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEJAVU_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEJAVU_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEJAVU_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEJAVU_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEJAVU_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEJAVU_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEJAVU_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEJAVU_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEJAVU_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "DEJAVU_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEJAVU_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEJAVU_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEJAVU_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DEJAVU_SERVER_RATE_WINDOW")

	// ── Engine ──
	setDuration(&cfg.Engine.PriceCacheTTL, "DEJAVU_ENGINE_PRICE_CACHE_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEJAVU_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEJAVU_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEJAVU_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEJAVU_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEJAVU_MODE")
	setStr(&cfg.LogLevel, "DEJAVU_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
