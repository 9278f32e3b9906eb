// Package config defines the top-level configuration for the order-lock
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ORDERLOCK_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Wallet   WalletConfig   `toml:"wallet"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Settle   SettleConfig   `toml:"settle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the operator HTTP/WebSocket API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit is requests per window per client IP; zero disables limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// WalletConfig holds the operator's signing key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the ledger node endpoints.
type LedgerConfig struct {
	// Mode selects the provider: "rpc" talks to a node, "memory" runs the
	// in-process ledger (local development and tests only).
	Mode string `toml:"mode"`

	RPCHost string `toml:"rpc_host"`
	WSHost  string `toml:"ws_host"`

	Timeout      duration `toml:"timeout"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig holds the bookkeeping database connection parameters.
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

// S3Config holds receipt-archive object storage parameters. The archive is
// optional: an empty bucket disables it.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettleConfig tunes transaction settlement.
type SettleConfig struct {
	// MaxRetries bounds resubmission attempts after transient provider
	// failures. Rejections are never retried.
	MaxRetries int `toml:"max_retries"`

	// RetryBackoff is the base delay between resubmission attempts.
	RetryBackoff duration `toml:"retry_backoff"`

	// InclusionTimeout bounds how long a settlement waits for a receipt.
	InclusionTimeout duration `toml:"inclusion_timeout"`
}

// KeeperConfig tunes the bookkeeping reconciler.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`

	// Makers lists the hex addresses whose open orders the keeper tracks.
	Makers []string `toml:"makers"`
}

// NotifyConfig holds operator alert channels. All channels are optional;
// with none configured, alerting is disabled.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`

	// Events filters which event types are delivered; empty allows all.
	Events []string `toml:"events"`
}

// Enabled reports whether at least one alert channel is configured.
func (n NotifyConfig) Enabled() bool {
	return (n.TelegramToken != "" && n.TelegramChatID != "") || n.DiscordWebhook != ""
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Ledger: LedgerConfig{
			Mode:         "rpc",
			RPCHost:      "http://localhost:4000",
			WSHost:       "",
			Timeout:      duration{30 * time.Second},
			PollInterval: duration{500 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orderlock",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Settle: SettleConfig{
			MaxRetries:       3,
			RetryBackoff:     duration{250 * time.Millisecond},
			InclusionTimeout: duration{time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":     true, // order lifecycle service plus keeper
	"reconcile": true, // one reconciliation pass, then exit
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLedgerModes = map[string]bool{
	"rpc":    true,
	"memory": true,
}

// Validate checks the configuration for internal consistency. All problems
// are collected and returned as a single error so operators can fix a config
// file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, reconcile)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
	}

	// Wallet — serving requires a key source.
	if c.Mode == "serve" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode serve")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger
	if !validLedgerModes[strings.ToLower(c.Ledger.Mode)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown mode %q (valid: rpc, memory)", c.Ledger.Mode))
	}
	if strings.ToLower(c.Ledger.Mode) == "rpc" && c.Ledger.RPCHost == "" {
		errs = append(errs, "ledger: rpc_host must not be empty in rpc mode")
	}
	if c.Ledger.Timeout.Duration <= 0 {
		errs = append(errs, "ledger: timeout must be positive")
	}
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be positive")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3 — only validated when the archive is enabled.
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when a bucket is configured")
	}

	// Settle
	if c.Settle.MaxRetries < 0 {
		errs = append(errs, "settle: max_retries must be >= 0")
	}
	if c.Settle.RetryBackoff.Duration <= 0 {
		errs = append(errs, "settle: retry_backoff must be positive")
	}
	if c.Settle.InclusionTimeout.Duration <= 0 {
		errs = append(errs, "settle: inclusion_timeout must be positive")
	}

	// Keeper
	if c.Keeper.Enabled && c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be positive when enabled")
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
