// Package config defines the top-level configuration for the solana trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Jupiter   JupiterConfig   `toml:"jupiter"`
	Quicknode QuicknodeConfig `toml:"quicknode"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Request   RequestConfig   `toml:"request"`
	Feed      FeedConfig      `toml:"feed"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds Solana wallet parameters. The private key never lives
// here: signing is delegated to an external signer, only the public address
// is needed in-process.
type WalletConfig struct {
	Address       string `toml:"address"`
	SignerURL     string `toml:"signer_url"`
	SignerAPIKey  string `toml:"signer_api_key"`
	SignerTimeout int    `toml:"signer_timeout_sec"`
}

// JupiterConfig holds Jupiter aggregator API endpoints. V6 hosts are
// preferred; V4 hosts serve as fallback when every V6 host is unhealthy.
type JupiterConfig struct {
	V6Hosts       []string `toml:"v6_hosts"`
	V4Hosts       []string `toml:"v4_hosts"`
	PriceHosts    []string `toml:"price_hosts"`
	TokenListURL  string   `toml:"token_list_url"`
	TokenListTTL  duration `toml:"token_list_ttl"`
	BlacklistPath string   `toml:"blacklist_path"`
}

// QuicknodeConfig holds Solana RPC endpoints and the websocket push URL.
type QuicknodeConfig struct {
	RPCURLs []string `toml:"rpc_urls"`
	WsURL   string   `toml:"ws_url"`
	APIKey  string   `toml:"api_key"`
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
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	SignalChannel string `toml:"signal_channel"`
}

// S3Config holds S3-compatible object storage parameters for the closed
// position archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TierConfig is one take-profit tier in the trading config.
type TierConfig struct {
	Multiple    float64 `toml:"multiple"`
	SellPercent float64 `toml:"sell_percent"`
}

// TradingConfig holds position sizing and exit ladder parameters.
type TradingConfig struct {
	PositionPercent  float64      `toml:"position_percent"`
	MaxPositions     int          `toml:"max_positions"`
	DefaultSlippage  float64      `toml:"default_slippage_pct"`
	StopLossMultiple float64      `toml:"stop_loss_multiple"`
	Tiers            []TierConfig `toml:"tiers"`
}

// RiskConfig holds pre-trade validation thresholds.
type RiskConfig struct {
	MinLiquiditySOL    float64  `toml:"min_liquidity_sol"`
	MaxPriceImpactPct  float64  `toml:"max_price_impact_pct"`
	MinBalanceSOL      float64  `toml:"min_balance_sol"`
	RequireVerified    bool     `toml:"require_verified"`
	RateLimitPerWindow int      `toml:"rate_limit_per_window"`
	RateLimitWindow    duration `toml:"rate_limit_window"`
}

// RequestConfig holds retry, failover, and confirmation parameters for all
// outbound API traffic.
type RequestConfig struct {
	MaxRetries          int      `toml:"max_retries"`
	PerAttemptTimeout   duration `toml:"per_attempt_timeout"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffCap          duration `toml:"backoff_cap"`
	FailureThreshold    int      `toml:"failure_threshold"`
	HealthCheckInterval duration `toml:"health_check_interval"`
	ConfirmationTimeout duration `toml:"confirmation_timeout"`
}

// FeedConfig holds price feed polling and staleness parameters.
type FeedConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	MaxPriceAge      duration `toml:"max_price_age"`
	ReconnectMinWait duration `toml:"reconnect_min_wait"`
	ReconnectMaxWait duration `toml:"reconnect_max_wait"`
	VsToken          string   `toml:"vs_token"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// WSOL is the wrapped SOL mint, the quote token for every price and swap.
const WSOL = "So11111111111111111111111111111111111111112"

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Jupiter: JupiterConfig{
			V6Hosts:      []string{"https://quote-api.jup.ag/v6"},
			V4Hosts:      []string{"https://quote-api.jup.ag/v4"},
			PriceHosts:   []string{"https://price.jup.ag/v6"},
			TokenListURL: "https://token.jup.ag/strict",
			TokenListTTL: duration{1 * time.Hour},
		},
		Quicknode: QuicknodeConfig{
			RPCURLs: []string{"https://api.mainnet-beta.solana.com"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "solbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			TLSEnabled:    false,
			SignalChannel: "solbot:signals",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "solbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			PositionPercent:  5.0,
			MaxPositions:     5,
			DefaultSlippage:  1.0,
			StopLossMultiple: 0.25,
			Tiers: []TierConfig{
				{Multiple: 1.5, SellPercent: 20},
				{Multiple: 2.5, SellPercent: 20},
				{Multiple: 5, SellPercent: 20},
				{Multiple: 10, SellPercent: 20},
				{Multiple: 30, SellPercent: 25},
				{Multiple: 90, SellPercent: 50},
			},
		},
		Risk: RiskConfig{
			MinLiquiditySOL:    40,
			MaxPriceImpactPct:  10,
			MinBalanceSOL:      0.05,
			RequireVerified:    true,
			RateLimitPerWindow: 30,
			RateLimitWindow:    duration{10 * time.Second},
		},
		Request: RequestConfig{
			MaxRetries:          3,
			PerAttemptTimeout:   duration{10 * time.Second},
			BackoffBase:         duration{500 * time.Millisecond},
			BackoffCap:          duration{8 * time.Second},
			FailureThreshold:    3,
			HealthCheckInterval: duration{60 * time.Second},
			ConfirmationTimeout: duration{60 * time.Second},
		},
		Feed: FeedConfig{
			PollInterval:     duration{5 * time.Second},
			MaxPriceAge:      duration{30 * time.Second},
			ReconnectMinWait: duration{1 * time.Second},
			ReconnectMaxWait: duration{60 * time.Second},
			VsToken:          WSOL,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "tier_triggered", "stop_loss", "position_closed", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — trading mode needs an address and a signer.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.Address == "" {
			errs = append(errs, "wallet: address must be set for mode trade")
		}
		if c.Wallet.SignerURL == "" {
			errs = append(errs, "wallet: signer_url must be set for mode trade")
		}
	}

	// Jupiter endpoints
	if len(c.Jupiter.V6Hosts) == 0 && len(c.Jupiter.V4Hosts) == 0 {
		errs = append(errs, "jupiter: at least one of v6_hosts or v4_hosts must be set")
	}
	if len(c.Jupiter.PriceHosts) == 0 {
		errs = append(errs, "jupiter: price_hosts must not be empty")
	}

	// Quicknode
	if len(c.Quicknode.RPCURLs) == 0 {
		errs = append(errs, "quicknode: rpc_urls must not be empty")
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
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.SignalChannel == "" {
		errs = append(errs, "redis: signal_channel must not be empty")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Trading
	if c.Trading.PositionPercent <= 0 || c.Trading.PositionPercent > 100 {
		errs = append(errs, fmt.Sprintf("trading: position_percent must be in (0, 100], got %v", c.Trading.PositionPercent))
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.DefaultSlippage <= 0 {
		errs = append(errs, "trading: default_slippage_pct must be > 0")
	}
	if c.Trading.StopLossMultiple <= 0 || c.Trading.StopLossMultiple >= 1 {
		errs = append(errs, fmt.Sprintf("trading: stop_loss_multiple must be in (0, 1), got %v", c.Trading.StopLossMultiple))
	}
	if len(c.Trading.Tiers) == 0 {
		errs = append(errs, "trading: at least one take-profit tier must be configured")
	}
	prev := 0.0
	for i, t := range c.Trading.Tiers {
		if t.Multiple <= 1 {
			errs = append(errs, fmt.Sprintf("trading: tier %d multiple must be > 1, got %v", i, t.Multiple))
		}
		if t.Multiple <= prev {
			errs = append(errs, fmt.Sprintf("trading: tier %d multiple %v must exceed the previous tier", i, t.Multiple))
		}
		if t.SellPercent <= 0 || t.SellPercent > 100 {
			errs = append(errs, fmt.Sprintf("trading: tier %d sell_percent must be in (0, 100], got %v", i, t.SellPercent))
		}
		prev = t.Multiple
	}

	// Risk
	if c.Risk.MinLiquiditySOL < 0 {
		errs = append(errs, "risk: min_liquidity_sol must be >= 0")
	}
	if c.Risk.MaxPriceImpactPct <= 0 {
		errs = append(errs, "risk: max_price_impact_pct must be > 0")
	}

	// Request
	if c.Request.MaxRetries < 1 {
		errs = append(errs, "request: max_retries must be >= 1")
	}
	if c.Request.PerAttemptTimeout.Duration <= 0 {
		errs = append(errs, "request: per_attempt_timeout must be > 0")
	}
	if c.Request.BackoffBase.Duration <= 0 {
		errs = append(errs, "request: backoff_base must be > 0")
	}
	if c.Request.BackoffCap.Duration < c.Request.BackoffBase.Duration {
		errs = append(errs, "request: backoff_cap must be >= backoff_base")
	}
	if c.Request.FailureThreshold < 1 {
		errs = append(errs, "request: failure_threshold must be >= 1")
	}
	if c.Request.ConfirmationTimeout.Duration <= 0 {
		errs = append(errs, "request: confirmation_timeout must be > 0")
	}

	// Feed
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}
	if c.Feed.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "feed: max_price_age must be > 0")
	}
	if c.Feed.ReconnectMinWait.Duration <= 0 || c.Feed.ReconnectMaxWait.Duration < c.Feed.ReconnectMinWait.Duration {
		errs = append(errs, "feed: reconnect waits must satisfy 0 < min <= max")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
