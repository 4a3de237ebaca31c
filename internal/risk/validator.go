// Package risk runs the pre-trade checks that stand between a signal and an
// order. Threshold checks run first on data already in hand, so a trade that
// cannot pass them is rejected without touching the network; the first
// failure wins.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

// Config holds the validator's thresholds.
type Config struct {
	MinLiquiditySOL   decimal.Decimal
	MaxPriceImpactPct decimal.Decimal
	MinBalanceSOL     decimal.Decimal
	PositionPercent   decimal.Decimal
	MaxPositions      int
	RequireVerified   bool
	MaxPriceAge       time.Duration
}

// Validator decides whether an entry intent is allowed to trade and whether a
// planned exit still has a market to sell into.
type Validator struct {
	logger *slog.Logger
	tokens domain.TokenResolver
	rpc    domain.RPCProvider
	wallet string
	cfg    Config
}

// New builds a Validator for the given wallet address.
func New(logger *slog.Logger, tokens domain.TokenResolver, rpc domain.RPCProvider, wallet string, cfg Config) *Validator {
	return &Validator{
		logger: logger.With(slog.String("component", "risk_validator")),
		tokens: tokens,
		rpc:    rpc,
		wallet: wallet,
		cfg:    cfg,
	}
}

// ValidateEntry checks a proposed entry of size notional (SOL) against the
// caller-supplied wallet balance and the token's latest price sample. Checks
// run in order: funds, price freshness, pool depth, estimated impact, then
// token trust. Everything before the trust check works on the arguments
// alone, so a trade rejected on thresholds never causes a token-list fetch.
// A failed check returns a *domain.ValidationError carrying the
// machine-readable reason.
func (v *Validator) ValidateEntry(ctx context.Context, token string, notional, walletBalance decimal.Decimal, sample domain.PriceSample) error {
	// Wallet must cover the trade and keep the fee reserve.
	if walletBalance.Sub(notional).LessThan(v.cfg.MinBalanceSOL) {
		return &domain.ValidationError{
			Reason: domain.RejectInsufficientFunds,
			Detail: fmt.Sprintf("balance %s SOL cannot cover %s SOL plus %s reserve", walletBalance, notional, v.cfg.MinBalanceSOL),
		}
	}

	// Price data must be current before any threshold makes sense.
	if !sample.FreshAt(time.Now(), v.cfg.MaxPriceAge) {
		return &domain.ValidationError{
			Reason: domain.RejectStalePrice,
			Detail: fmt.Sprintf("sample observed at %s exceeds max age %s", sample.ObservedAt.Format(time.RFC3339), v.cfg.MaxPriceAge),
		}
	}

	// Pool depth.
	if sample.Liquidity.LessThan(v.cfg.MinLiquiditySOL) {
		return &domain.ValidationError{
			Reason: domain.RejectLiquidityTooLow,
			Detail: fmt.Sprintf("pool liquidity %s SOL below minimum %s", sample.Liquidity, v.cfg.MinLiquiditySOL),
		}
	}

	// Estimated impact: trade size as a share of pool depth.
	impact := notional.Div(sample.Liquidity).Mul(decimal.NewFromInt(100))
	if impact.GreaterThan(v.cfg.MaxPriceImpactPct) {
		return &domain.ValidationError{
			Reason: domain.RejectPriceImpactTooHigh,
			Detail: fmt.Sprintf("estimated impact %s%% exceeds maximum %s%%", impact.Round(2), v.cfg.MaxPriceImpactPct),
		}
	}

	// Token trust last: resolving may hit the token list service, so it only
	// runs for trades that cleared every threshold.
	if v.tokens.Blacklisted(token) {
		return &domain.ValidationError{
			Reason: domain.RejectTokenUntrusted,
			Detail: "mint is blacklisted",
		}
	}
	tok, err := v.tokens.Resolve(ctx, token)
	if err != nil {
		return fmt.Errorf("risk: resolve token %s: %w", token, err)
	}
	if v.cfg.RequireVerified && !tok.Verified {
		return &domain.ValidationError{
			Reason: domain.RejectTokenUntrusted,
			Detail: "mint is not on the verified token list",
		}
	}

	return nil
}

// ValidateClose checks whether a planned exit of pos still has a current
// price and a pool worth selling into. Push samples may arrive without a
// liquidity figure; the depth floor only applies when one is present.
// Stop-loss exits must not go through this gate: when a pool is being
// drained, the stop is the one order that still has to fire.
func (v *Validator) ValidateClose(_ context.Context, pos domain.Position, sample domain.PriceSample) error {
	if !sample.FreshAt(time.Now(), v.cfg.MaxPriceAge) {
		return &domain.ValidationError{
			Reason: domain.RejectStalePrice,
			Detail: fmt.Sprintf("sample for %s observed at %s exceeds max age %s", pos.Token, sample.ObservedAt.Format(time.RFC3339), v.cfg.MaxPriceAge),
		}
	}
	if sample.Liquidity.IsPositive() && sample.Liquidity.LessThan(v.cfg.MinLiquiditySOL) {
		return &domain.ValidationError{
			Reason: domain.RejectLiquidityTooLow,
			Detail: fmt.Sprintf("pool liquidity %s SOL below minimum %s", sample.Liquidity, v.cfg.MinLiquiditySOL),
		}
	}
	return nil
}

// WalletBalance returns the wallet's current SOL balance.
func (v *Validator) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := v.rpc.GetBalance(ctx, v.wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("risk: get balance: %w", err)
	}
	return balance, nil
}

// PositionSize returns the SOL notional for a new entry: the configured
// percentage of the given wallet balance.
func (v *Validator) PositionSize(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(v.cfg.PositionPercent).Div(decimal.NewFromInt(100))
}
