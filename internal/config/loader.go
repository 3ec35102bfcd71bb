package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SHELF_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SHELF_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SHELF_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SHELF_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SHELF_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SHELF_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SHELF_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SHELF_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SHELF_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SHELF_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SHELF_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SHELF_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SHELF_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SHELF_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SHELF_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHELF_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SHELF_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SHELF_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SHELF_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SHELF_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SHELF_S3_REGION")
	setStr(&cfg.S3.Bucket, "SHELF_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SHELF_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SHELF_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SHELF_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SHELF_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SHELF_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SHELF_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SHELF_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SHELF_SERVER_API_KEY")

	// ── Webhook ──
	setStr(&cfg.Webhook.Secret, "SHELF_WEBHOOK_SECRET")

	// ── Upload ──
	setInt64(&cfg.Upload.MaxProofBytes, "SHELF_UPLOAD_MAX_PROOF_BYTES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SHELF_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SHELF_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "SHELF_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SHELF_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SHELF_MODE")
	setStr(&cfg.LogLevel, "SHELF_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
