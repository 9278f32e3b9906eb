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
// built-in defaults, applies ORDERLOCK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ORDERLOCK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "ORDERLOCK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ORDERLOCK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ORDERLOCK_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ORDERLOCK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "ORDERLOCK_SERVER_RATE_LIMIT_WINDOW")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ORDERLOCK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ORDERLOCK_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ORDERLOCK_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.Mode, "ORDERLOCK_LEDGER_MODE")
	setStr(&cfg.Ledger.RPCHost, "ORDERLOCK_LEDGER_RPC_HOST")
	setStr(&cfg.Ledger.WSHost, "ORDERLOCK_LEDGER_WS_HOST")
	setDuration(&cfg.Ledger.Timeout, "ORDERLOCK_LEDGER_TIMEOUT")
	setDuration(&cfg.Ledger.PollInterval, "ORDERLOCK_LEDGER_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORDERLOCK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERLOCK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERLOCK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERLOCK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERLOCK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERLOCK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERLOCK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERLOCK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERLOCK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERLOCK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDERLOCK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERLOCK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERLOCK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERLOCK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERLOCK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERLOCK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ORDERLOCK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERLOCK_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERLOCK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERLOCK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERLOCK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERLOCK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERLOCK_S3_FORCE_PATH_STYLE")

	// ── Settle ──
	setInt(&cfg.Settle.MaxRetries, "ORDERLOCK_SETTLE_MAX_RETRIES")
	setDuration(&cfg.Settle.RetryBackoff, "ORDERLOCK_SETTLE_RETRY_BACKOFF")
	setDuration(&cfg.Settle.InclusionTimeout, "ORDERLOCK_SETTLE_INCLUSION_TIMEOUT")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "ORDERLOCK_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "ORDERLOCK_KEEPER_INTERVAL")
	setStringSlice(&cfg.Keeper.Makers, "ORDERLOCK_KEEPER_MAKERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERLOCK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERLOCK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "ORDERLOCK_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "ORDERLOCK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERLOCK_MODE")
	setStr(&cfg.LogLevel, "ORDERLOCK_LOG_LEVEL")
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
