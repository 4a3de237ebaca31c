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
// built-in defaults, applies SOLBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "SOLBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.SignerURL, "SOLBOT_WALLET_SIGNER_URL")
	setStr(&cfg.Wallet.SignerAPIKey, "SOLBOT_WALLET_SIGNER_API_KEY")
	setInt(&cfg.Wallet.SignerTimeout, "SOLBOT_WALLET_SIGNER_TIMEOUT_SEC")

	// ── Jupiter ──
	setStringSlice(&cfg.Jupiter.V6Hosts, "SOLBOT_JUPITER_V6_HOSTS")
	setStringSlice(&cfg.Jupiter.V4Hosts, "SOLBOT_JUPITER_V4_HOSTS")
	setStringSlice(&cfg.Jupiter.PriceHosts, "SOLBOT_JUPITER_PRICE_HOSTS")
	setStr(&cfg.Jupiter.TokenListURL, "SOLBOT_JUPITER_TOKEN_LIST_URL")
	setDuration(&cfg.Jupiter.TokenListTTL, "SOLBOT_JUPITER_TOKEN_LIST_TTL")
	setStr(&cfg.Jupiter.BlacklistPath, "SOLBOT_JUPITER_BLACKLIST_PATH")

	// ── Quicknode ──
	setStringSlice(&cfg.Quicknode.RPCURLs, "SOLBOT_QUICKNODE_RPC_URLS")
	setStr(&cfg.Quicknode.WsURL, "SOLBOT_QUICKNODE_WS_URL")
	setStr(&cfg.Quicknode.APIKey, "SOLBOT_QUICKNODE_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.SignalChannel, "SOLBOT_REDIS_SIGNAL_CHANNEL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLBOT_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setFloat64(&cfg.Trading.PositionPercent, "SOLBOT_TRADING_POSITION_PERCENT")
	setInt(&cfg.Trading.MaxPositions, "SOLBOT_TRADING_MAX_POSITIONS")
	setFloat64(&cfg.Trading.DefaultSlippage, "SOLBOT_TRADING_DEFAULT_SLIPPAGE_PCT")
	setFloat64(&cfg.Trading.StopLossMultiple, "SOLBOT_TRADING_STOP_LOSS_MULTIPLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinLiquiditySOL, "SOLBOT_RISK_MIN_LIQUIDITY_SOL")
	setFloat64(&cfg.Risk.MaxPriceImpactPct, "SOLBOT_RISK_MAX_PRICE_IMPACT_PCT")
	setFloat64(&cfg.Risk.MinBalanceSOL, "SOLBOT_RISK_MIN_BALANCE_SOL")
	setBool(&cfg.Risk.RequireVerified, "SOLBOT_RISK_REQUIRE_VERIFIED")
	setInt(&cfg.Risk.RateLimitPerWindow, "SOLBOT_RISK_RATE_LIMIT_PER_WINDOW")
	setDuration(&cfg.Risk.RateLimitWindow, "SOLBOT_RISK_RATE_LIMIT_WINDOW")

	// ── Request ──
	setInt(&cfg.Request.MaxRetries, "SOLBOT_REQUEST_MAX_RETRIES")
	setDuration(&cfg.Request.PerAttemptTimeout, "SOLBOT_REQUEST_PER_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Request.BackoffBase, "SOLBOT_REQUEST_BACKOFF_BASE")
	setDuration(&cfg.Request.BackoffCap, "SOLBOT_REQUEST_BACKOFF_CAP")
	setInt(&cfg.Request.FailureThreshold, "SOLBOT_REQUEST_FAILURE_THRESHOLD")
	setDuration(&cfg.Request.HealthCheckInterval, "SOLBOT_REQUEST_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.Request.ConfirmationTimeout, "SOLBOT_REQUEST_CONFIRMATION_TIMEOUT")

	// ── Feed ──
	setDuration(&cfg.Feed.PollInterval, "SOLBOT_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.MaxPriceAge, "SOLBOT_FEED_MAX_PRICE_AGE")
	setDuration(&cfg.Feed.ReconnectMinWait, "SOLBOT_FEED_RECONNECT_MIN_WAIT")
	setDuration(&cfg.Feed.ReconnectMaxWait, "SOLBOT_FEED_RECONNECT_MAX_WAIT")
	setStr(&cfg.Feed.VsToken, "SOLBOT_FEED_VS_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLBOT_MODE")
	setStr(&cfg.LogLevel, "SOLBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
