package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	return cfg
}

func TestDefaults_ValidAfterKeySet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "banana"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Settle.MaxRetries = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "settle: max_retries")
}

func TestValidate_ServeRequiresKey(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/keys/operator.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestLoad_TOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "serve"
log_level = "debug"

[wallet]
private_key = "0xabc"

[ledger]
rpc_host = "http://node:4000"
poll_interval = "250ms"

[keeper]
makers = ["0x01", "0x02"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ORDERLOCK_LEDGER_RPC_HOST", "http://other-node:4000")
	t.Setenv("ORDERLOCK_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	// Env wins over TOML.
	assert.Equal(t, "http://other-node:4000", cfg.Ledger.RPCHost)
	assert.Equal(t, 3, cfg.Redis.DB)
	// TOML wins over defaults.
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.PollInterval.Duration)
	assert.Equal(t, []string{"0x01", "0x02"}, cfg.Keeper.Makers)
}

func TestRedactedConfig_HidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "sekrit"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
