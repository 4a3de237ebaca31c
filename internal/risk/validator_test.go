package risk

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbot/internal/domain"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTokens struct {
	verified  map[string]bool
	blacklist map[string]bool

	resolves atomic.Int64
}

func (f *fakeTokens) Resolve(_ context.Context, mint string) (domain.Token, error) {
	f.resolves.Add(1)
	return domain.Token{Address: mint, Verified: f.verified[mint]}, nil
}

func (f *fakeTokens) Blacklisted(mint string) bool { return f.blacklist[mint] }

type fakeRPC struct {
	balance decimal.Decimal

	balanceCalls atomic.Int64
}

func (f *fakeRPC) SubmitTransaction(context.Context, domain.SignedTx) (string, error) {
	return "", nil
}

func (f *fakeRPC) GetTransactionStatus(context.Context, string) (domain.TxStatus, error) {
	return domain.TxStatusConfirmed, nil
}

func (f *fakeRPC) GetBalance(context.Context, string) (decimal.Decimal, error) {
	f.balanceCalls.Add(1)
	return f.balance, nil
}

func testValidator(balance string) (*Validator, *fakeTokens, *fakeRPC) {
	tokens := &fakeTokens{
		verified:  map[string]bool{"good": true},
		blacklist: map[string]bool{"evil": true},
	}
	rpc := &fakeRPC{balance: decimal.RequireFromString(balance)}
	v := New(testLogger(), tokens, rpc, "wallet", Config{
		MinLiquiditySOL:   decimal.NewFromInt(40),
		MaxPriceImpactPct: decimal.NewFromInt(10),
		MinBalanceSOL:     decimal.RequireFromString("0.05"),
		PositionPercent:   decimal.NewFromInt(5),
		MaxPositions:      5,
		RequireVerified:   true,
		MaxPriceAge:       time.Minute,
	})
	return v, tokens, rpc
}

func freshSample(liquidity string) domain.PriceSample {
	return domain.PriceSample{
		Token:      "good",
		Price:      decimal.RequireFromString("0.001"),
		Liquidity:  decimal.RequireFromString(liquidity),
		ObservedAt: time.Now(),
		Source:     "test",
	}
}

func sol(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidateEntryPasses(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateEntry(context.Background(), "good", sol("0.5"), sol("10"), freshSample("100"))
	assert.NoError(t, err)
}

func TestRejectBlacklisted(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateEntry(context.Background(), "evil", sol("1"), sol("10"), freshSample("100"))
	assert.Equal(t, domain.RejectTokenUntrusted, domain.RejectReasonOf(err))
}

func TestRejectUnverified(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateEntry(context.Background(), "unknown", sol("1"), sol("10"), freshSample("100"))
	assert.Equal(t, domain.RejectTokenUntrusted, domain.RejectReasonOf(err))
}

func TestRejectStalePrice(t *testing.T) {
	v, _, _ := testValidator("10")
	s := freshSample("100")
	s.ObservedAt = time.Now().Add(-5 * time.Minute)
	err := v.ValidateEntry(context.Background(), "good", sol("1"), sol("10"), s)
	assert.Equal(t, domain.RejectStalePrice, domain.RejectReasonOf(err))
}

func TestRejectLowLiquidity(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateEntry(context.Background(), "good", sol("1"), sol("10"), freshSample("39"))
	assert.Equal(t, domain.RejectLiquidityTooLow, domain.RejectReasonOf(err))
}

func TestRejectHighPriceImpact(t *testing.T) {
	v, _, _ := testValidator("100")
	// 11 SOL into a 100 SOL pool is 11% impact against a 10% cap.
	err := v.ValidateEntry(context.Background(), "good", sol("11"), sol("100"), freshSample("100"))
	assert.Equal(t, domain.RejectPriceImpactTooHigh, domain.RejectReasonOf(err))
}

func TestRejectInsufficientFunds(t *testing.T) {
	v, _, _ := testValidator("1")
	// 1 SOL balance cannot cover 0.99 plus the 0.05 reserve.
	err := v.ValidateEntry(context.Background(), "good", sol("0.99"), sol("1"), freshSample("100"))
	assert.Equal(t, domain.RejectInsufficientFunds, domain.RejectReasonOf(err))
}

func TestCheckOrderFundsBeforeLiquidity(t *testing.T) {
	// Both balance and liquidity fail; the funds verdict must win.
	v, _, _ := testValidator("0.01")
	err := v.ValidateEntry(context.Background(), "good", sol("1"), sol("0.01"), freshSample("5"))
	assert.Equal(t, domain.RejectInsufficientFunds, domain.RejectReasonOf(err))
}

func TestThresholdRejectionNeedsNoLookups(t *testing.T) {
	// Liquidity and impact verdicts come from the sample and the arguments
	// alone: neither the token list nor the RPC node may be consulted.
	v, tokens, rpc := testValidator("100")

	err := v.ValidateEntry(context.Background(), "good", sol("1"), sol("100"), freshSample("5"))
	assert.Equal(t, domain.RejectLiquidityTooLow, domain.RejectReasonOf(err))

	err = v.ValidateEntry(context.Background(), "good", sol("11"), sol("100"), freshSample("100"))
	assert.Equal(t, domain.RejectPriceImpactTooHigh, domain.RejectReasonOf(err))

	assert.Zero(t, tokens.resolves.Load(), "token list must not be consulted")
	assert.Zero(t, rpc.balanceCalls.Load(), "RPC node must not be consulted")
}

func TestValidateClosePasses(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateClose(context.Background(), domain.Position{Token: "good"}, freshSample("100"))
	assert.NoError(t, err)
}

func TestValidateCloseRejectsStale(t *testing.T) {
	v, _, _ := testValidator("10")
	s := freshSample("100")
	s.ObservedAt = time.Now().Add(-5 * time.Minute)
	err := v.ValidateClose(context.Background(), domain.Position{Token: "good"}, s)
	assert.Equal(t, domain.RejectStalePrice, domain.RejectReasonOf(err))
}

func TestValidateCloseRejectsThinPool(t *testing.T) {
	v, _, _ := testValidator("10")
	err := v.ValidateClose(context.Background(), domain.Position{Token: "good"}, freshSample("5"))
	assert.Equal(t, domain.RejectLiquidityTooLow, domain.RejectReasonOf(err))
}

func TestValidateCloseAllowsUnknownDepth(t *testing.T) {
	// Push samples can omit liquidity; the depth floor must not apply then.
	v, _, _ := testValidator("10")
	err := v.ValidateClose(context.Background(), domain.Position{Token: "good"}, freshSample("0"))
	assert.NoError(t, err)
}

func TestWalletBalance(t *testing.T) {
	v, _, _ := testValidator("20")
	balance, err := v.WalletBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(20)))
}

func TestPositionSize(t *testing.T) {
	v, _, _ := testValidator("20")
	size := v.PositionSize(decimal.NewFromInt(20))
	assert.True(t, size.Equal(decimal.NewFromInt(1)), "5%% of 20 SOL")
}
