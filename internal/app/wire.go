package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	s3blob "solbot/internal/blob/s3"
	"solbot/internal/cache/redis"
	"solbot/internal/config"
	"solbot/internal/domain"
	"solbot/internal/endpoint"
	"solbot/internal/executor"
	"solbot/internal/feed"
	"solbot/internal/notify"
	"solbot/internal/orchestrator"
	"solbot/internal/platform/jupiter"
	"solbot/internal/platform/quicknode"
	"solbot/internal/platform/signer"
	"solbot/internal/position"
	"solbot/internal/request"
	"solbot/internal/risk"
	"solbot/internal/store/postgres"
)

// Dependencies bundles every component the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore

	// Redis-backed collaborators
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Platform clients
	Registry  *endpoint.Registry
	Jupiter   *jupiter.Client
	Quicknode *quicknode.Client
	WS        *quicknode.WSClient // nil when no websocket URL is configured
	Tokens    *jupiter.TokenList

	// Trading components
	Feed         *feed.Feed
	Risk         *risk.Validator
	Executor     *executor.OrderExecutor
	Positions    *position.Manager
	Orchestrator *orchestrator.Orchestrator

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 position archive (optional) ---
	var archiver domain.PositionArchiver
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.TradeStore)
	}

	// --- Notifications ---
	senders := notify.SendersFromConfig(
		cfg.Notify.TelegramToken,
		cfg.Notify.TelegramChatID,
		cfg.Notify.DiscordWebhookURL,
	)
	deps.Notifier = notify.NewNotifier(logger, senders, cfg.Notify.Events)

	// --- Endpoint registry and request executor ---
	// The probe closure dispatches on capability; the clients it calls are
	// assigned below, before the registry's health loop starts.
	probe := func(ctx context.Context, ep domain.Endpoint) error {
		if ep.Capability == domain.CapabilityRPC {
			return deps.Quicknode.Probe(ctx, ep)
		}
		return deps.Jupiter.Probe(ctx, ep)
	}
	deps.Registry = endpoint.New(logger, buildEndpoints(cfg), probe,
		cfg.Request.FailureThreshold, cfg.Request.HealthCheckInterval.Duration)

	reqExec := request.New(logger, deps.Registry, deps.RateLimiter, request.Config{
		MaxRetries:        cfg.Request.MaxRetries,
		PerAttemptTimeout: cfg.Request.PerAttemptTimeout.Duration,
		BackoffBase:       cfg.Request.BackoffBase.Duration,
		BackoffCap:        cfg.Request.BackoffCap.Duration,
		RateLimit:         cfg.Risk.RateLimitPerWindow,
		RateWindow:        cfg.Risk.RateLimitWindow.Duration,
	})

	deps.Jupiter = jupiter.NewClient(reqExec)
	deps.Quicknode = quicknode.NewClient(reqExec, cfg.Quicknode.APIKey)

	if cfg.Quicknode.WsURL != "" {
		deps.WS = quicknode.NewWSClient(logger, cfg.Quicknode.WsURL,
			cfg.Feed.ReconnectMinWait.Duration, cfg.Feed.ReconnectMaxWait.Duration)
		closers = append(closers, func() { _ = deps.WS.Close() })
	}

	deps.Tokens, err = jupiter.NewTokenList(logger, cfg.Jupiter.TokenListURL,
		cfg.Jupiter.TokenListTTL.Duration, cfg.Jupiter.BlacklistPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: token list: %w", err)
	}

	// --- Price feed ---
	var push feed.PushSource
	if deps.WS != nil {
		push = deps.WS
	}
	deps.Feed = feed.New(logger, deps.Jupiter, push, deps.PriceCache, feed.Config{
		PollInterval: cfg.Feed.PollInterval.Duration,
		MaxPriceAge:  cfg.Feed.MaxPriceAge.Duration,
		VsToken:      cfg.Feed.VsToken,
	})

	// --- Risk validator ---
	deps.Risk = risk.New(logger, deps.Tokens, deps.Quicknode, cfg.Wallet.Address, risk.Config{
		MinLiquiditySOL:   decimal.NewFromFloat(cfg.Risk.MinLiquiditySOL),
		MaxPriceImpactPct: decimal.NewFromFloat(cfg.Risk.MaxPriceImpactPct),
		MinBalanceSOL:     decimal.NewFromFloat(cfg.Risk.MinBalanceSOL),
		PositionPercent:   decimal.NewFromFloat(cfg.Trading.PositionPercent),
		MaxPositions:      cfg.Trading.MaxPositions,
		RequireVerified:   cfg.Risk.RequireVerified,
		MaxPriceAge:       cfg.Feed.MaxPriceAge.Duration,
	})

	// --- Order executor ---
	signerClient := signer.NewClient(cfg.Wallet.SignerURL, cfg.Wallet.SignerAPIKey,
		time.Duration(cfg.Wallet.SignerTimeout)*time.Second)
	deps.Executor = executor.New(logger, deps.Jupiter, deps.Quicknode, signerClient,
		deps.TradeStore, cfg.Wallet.Address, executor.Config{
			DefaultSlippagePct:  decimal.NewFromFloat(cfg.Trading.DefaultSlippage),
			ConfirmationTimeout: cfg.Request.ConfirmationTimeout.Duration,
			VsToken:             cfg.Feed.VsToken,
		})

	// --- Position manager ---
	deps.Positions = position.NewManager(logger, deps.PositionStore, deps.Executor,
		deps.Feed, deps.Risk, deps.Notifier, archiver, position.Config{
			Tiers:            tiersFromConfig(cfg.Trading.Tiers),
			StopLossMultiple: decimal.NewFromFloat(cfg.Trading.StopLossMultiple),
			ReconcileTimeout: cfg.Request.ConfirmationTimeout.Duration,
		})

	// --- Orchestrator ---
	deps.Orchestrator = orchestrator.New(logger, deps.SignalBus, deps.Jupiter,
		deps.Risk, deps.Executor, deps.Positions, orchestrator.Config{
			SignalChannel:    cfg.Redis.SignalChannel,
			VsToken:          cfg.Feed.VsToken,
			ReconcileTimeout: cfg.Request.ConfirmationTimeout.Duration,
			MaxPositions:     cfg.Trading.MaxPositions,
			Monitor:          cfg.Mode == "monitor",
		}).
		WithRegistry(deps.Registry).
		WithFeed(deps.Feed).
		WithAlerter(deps.Notifier).
		WithHealthReporters(deps.Registry, deps.Feed)

	return deps, cleanup, nil
}

// buildEndpoints expands the configured hosts into one endpoint per
// capability. V6 hosts serve both quotes and swap building; V4 hosts are the
// fallback tried only when every V6 host is excluded.
func buildEndpoints(cfg *config.Config) []domain.Endpoint {
	var eps []domain.Endpoint

	for i, host := range cfg.Jupiter.V6Hosts {
		eps = append(eps,
			domain.Endpoint{
				ID:         "jupiter-v6-quote-" + strconv.Itoa(i),
				Capability: domain.CapabilityQuote,
				BaseURL:    host,
				Version:    "v6",
			},
			domain.Endpoint{
				ID:         "jupiter-v6-swap-" + strconv.Itoa(i),
				Capability: domain.CapabilitySwap,
				BaseURL:    host,
				Version:    "v6",
			},
		)
	}
	for i, host := range cfg.Jupiter.V4Hosts {
		eps = append(eps,
			domain.Endpoint{
				ID:         "jupiter-v4-quote-" + strconv.Itoa(i),
				Capability: domain.CapabilityQuote,
				BaseURL:    host,
				Version:    "v4",
			},
			domain.Endpoint{
				ID:         "jupiter-v4-swap-" + strconv.Itoa(i),
				Capability: domain.CapabilitySwap,
				BaseURL:    host,
				Version:    "v4",
			},
		)
	}
	for i, host := range cfg.Jupiter.PriceHosts {
		eps = append(eps, domain.Endpoint{
			ID:         "jupiter-price-" + strconv.Itoa(i),
			Capability: domain.CapabilityPrice,
			BaseURL:    host,
		})
	}
	for i, u := range cfg.Quicknode.RPCURLs {
		eps = append(eps, domain.Endpoint{
			ID:         "quicknode-rpc-" + strconv.Itoa(i),
			Capability: domain.CapabilityRPC,
			BaseURL:    u,
		})
	}
	return eps
}

// tiersFromConfig converts the configured exit ladder into domain tiers.
func tiersFromConfig(tiers []config.TierConfig) []domain.Tier {
	out := make([]domain.Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, domain.Tier{
			Multiple:    decimal.NewFromFloat(t.Multiple),
			SellPercent: decimal.NewFromFloat(t.SellPercent),
		})
	}
	return out
}
