package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor" // no wallet needed
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "banana"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Trading.StopLossMultiple = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "stop_loss_multiple")
}

func TestValidateTradeModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Wallet.Address = ""
	cfg.Wallet.SignerURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: address")
	assert.Contains(t, err.Error(), "wallet: signer_url")
}

func TestValidateTierOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Trading.Tiers = []TierConfig{
		{Multiple: 2, SellPercent: 20},
		{Multiple: 1.5, SellPercent: 20},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must exceed the previous tier")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[redis]
addr = "redis.internal:6380"

[request]
max_retries = 5
backoff_base = "250ms"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Request.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Request.BackoffBase.Duration)
	// untouched defaults survive
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Len(t, cfg.Trading.Tiers, 6)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOLBOT_REDIS_ADDR", "override:6379")
	t.Setenv("SOLBOT_REQUEST_CONFIRMATION_TIMEOUT", "90s")
	t.Setenv("SOLBOT_JUPITER_V6_HOSTS", "https://a.example/v6, https://b.example/v6")
	t.Setenv("SOLBOT_RISK_REQUIRE_VERIFIED", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Request.ConfirmationTimeout.Duration)
	assert.Equal(t, []string{"https://a.example/v6", "https://b.example/v6"}, cfg.Jupiter.V6Hosts)
	assert.False(t, cfg.Risk.RequireVerified)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.S3.SecretKey = "secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.S3.SecretKey)
	// original untouched
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
