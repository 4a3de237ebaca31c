package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
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

const wsol = "So11111111111111111111111111111111111111112"

type fakeSwaps struct {
	quote    domain.Quote
	quoteErr error
	buildErr error
	lastIn   string
	lastOut  string
}

func (f *fakeSwaps) GetQuote(_ context.Context, inputMint, outputMint string, amount, _ decimal.Decimal) (domain.Quote, error) {
	f.lastIn, f.lastOut = inputMint, outputMint
	if f.quoteErr != nil {
		return domain.Quote{}, f.quoteErr
	}
	q := f.quote
	q.InputMint, q.OutputMint = inputMint, outputMint
	return q, nil
}

func (f *fakeSwaps) BuildSwapTransaction(context.Context, domain.Quote, string) (domain.UnsignedTx, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return domain.UnsignedTx("unsigned"), nil
}

type fakeSigner struct{ err error }

func (f *fakeSigner) Sign(_ context.Context, tx domain.UnsignedTx) (domain.SignedTx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return domain.SignedTx("signed"), nil
}

type fakeRPC struct {
	mu        sync.Mutex
	submitErr error
	statuses  []domain.TxStatus
	statusIdx int
	queries   int
}

func (f *fakeRPC) SubmitTransaction(context.Context, domain.SignedTx) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "tx-1", nil
}

func (f *fakeRPC) GetTransactionStatus(context.Context, string) (domain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.statusIdx < len(f.statuses) {
		s := f.statuses[f.statusIdx]
		f.statusIdx++
		return s, nil
	}
	if len(f.statuses) == 0 {
		return domain.TxStatusPending, nil
	}
	return f.statuses[len(f.statuses)-1], nil
}

func (f *fakeRPC) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10), nil
}

type fakeTrades struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (f *fakeTrades) Insert(_ context.Context, r domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

func (f *fakeTrades) ListByPosition(context.Context, string) ([]domain.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TradeRecord(nil), f.records...), nil
}

func buyQuote() domain.Quote {
	return domain.Quote{
		InAmount:       decimal.NewFromInt(1),      // 1 SOL in
		OutAmount:      decimal.NewFromInt(4000),   // 4000 tokens out
		EffectivePrice: decimal.RequireFromString("0.00025"),
		PriceImpactPct: decimal.RequireFromString("0.5"),
		RoutePlan:      "r",
	}
}

func newExecutor(swaps *fakeSwaps, rpc *fakeRPC, trades domain.TradeStore) *OrderExecutor {
	return New(testLogger(), swaps, rpc, &fakeSigner{}, trades, "owner", Config{
		DefaultSlippagePct:  decimal.NewFromInt(1),
		ConfirmationTimeout: 2 * time.Second,
		VsToken:             wsol,
	})
}

func buyIntent() domain.TradeIntent {
	return domain.TradeIntent{
		ID:        "intent-1",
		Token:     "mintA",
		Side:      domain.TradeSideBuy,
		Amount:    decimal.NewFromInt(1),
		Reason:    "signal",
		CreatedAt: time.Now(),
	}
}

func TestExecuteBuyConfirms(t *testing.T) {
	swaps := &fakeSwaps{quote: buyQuote()}
	rpc := &fakeRPC{statuses: []domain.TxStatus{domain.TxStatusConfirmed}}
	trades := &fakeTrades{}
	e := newExecutor(swaps, rpc, trades)

	fill, err := e.Execute(context.Background(), buyIntent())
	require.NoError(t, err)

	assert.Equal(t, wsol, swaps.lastIn)
	assert.Equal(t, "mintA", swaps.lastOut)
	assert.Equal(t, "tx-1", fill.TxID)
	assert.True(t, fill.Amount.Equal(decimal.NewFromInt(4000)), "buy fill is tokens received")
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("0.00025")))

	require.Len(t, trades.records, 1)
	assert.Equal(t, domain.TradeSideBuy, trades.records[0].Side)
	assert.Equal(t, "tx-1", trades.records[0].TxID)
}

func TestExecuteSellNormalizesUnits(t *testing.T) {
	swaps := &fakeSwaps{quote: domain.Quote{
		InAmount:       decimal.NewFromInt(4000), // tokens in
		OutAmount:      decimal.NewFromInt(2),    // SOL out
		EffectivePrice: decimal.NewFromInt(2000), // in/out, not meaningful for sells
		RoutePlan:      "r",
	}}
	rpc := &fakeRPC{statuses: []domain.TxStatus{domain.TxStatusConfirmed}}
	e := newExecutor(swaps, rpc, nil)

	intent := buyIntent()
	intent.Side = domain.TradeSideSell
	intent.Amount = decimal.NewFromInt(4000)

	fill, err := e.Execute(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, "mintA", swaps.lastIn)
	assert.Equal(t, wsol, swaps.lastOut)
	assert.True(t, fill.Amount.Equal(decimal.NewFromInt(4000)), "sell fill is tokens sold")
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("0.0005")), "price is SOL per token")
}

func TestExecuteRejectsSlippage(t *testing.T) {
	q := buyQuote()
	q.EffectivePrice = decimal.RequireFromString("0.0003") // 20% above expected
	swaps := &fakeSwaps{quote: q}
	rpc := &fakeRPC{}
	e := newExecutor(swaps, rpc, nil)

	intent := buyIntent()
	intent.ExpectedPrice = decimal.RequireFromString("0.00025")

	_, err := e.Execute(context.Background(), intent)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Zero(t, rpc.queries, "nothing must be submitted")
}

func TestExecuteWithinSlippagePasses(t *testing.T) {
	q := buyQuote()
	q.EffectivePrice = decimal.RequireFromString("0.000252") // 0.8% above expected
	swaps := &fakeSwaps{quote: q}
	rpc := &fakeRPC{statuses: []domain.TxStatus{domain.TxStatusConfirmed}}
	e := newExecutor(swaps, rpc, nil)

	intent := buyIntent()
	intent.ExpectedPrice = decimal.RequireFromString("0.00025")

	_, err := e.Execute(context.Background(), intent)
	assert.NoError(t, err)
}

func TestExecuteTxFailed(t *testing.T) {
	swaps := &fakeSwaps{quote: buyQuote()}
	rpc := &fakeRPC{statuses: []domain.TxStatus{domain.TxStatusPending, domain.TxStatusFailed}}
	e := newExecutor(swaps, rpc, nil)

	_, err := e.Execute(context.Background(), buyIntent())
	assert.ErrorIs(t, err, domain.ErrTxFailed)
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	swaps := &fakeSwaps{quote: buyQuote()}
	rpc := &fakeRPC{} // pending forever
	e := newExecutor(swaps, rpc, nil)
	e.cfg.ConfirmationTimeout = 50 * time.Millisecond

	fill, err := e.Execute(context.Background(), buyIntent())
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	assert.Equal(t, "tx-1", fill.TxID, "provisional fill must identify the tx for reconciliation")
}

func TestExecuteConfirmsDespiteCallerCancel(t *testing.T) {
	swaps := &fakeSwaps{quote: buyQuote()}
	rpc := &fakeRPC{statuses: []domain.TxStatus{domain.TxStatusPending, domain.TxStatusConfirmed}}
	e := newExecutor(swaps, rpc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var fill domain.Fill
	var err error
	go func() {
		defer close(done)
		fill, err = e.Execute(ctx, buyIntent())
	}()
	// Cancel after submission has had time to happen; confirmation must
	// still run to a verdict.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.NoError(t, err)
	assert.Equal(t, "tx-1", fill.TxID)
}

func TestExecuteSubmitError(t *testing.T) {
	swaps := &fakeSwaps{quote: buyQuote()}
	rpc := &fakeRPC{submitErr: errors.New("node unreachable")}
	e := newExecutor(swaps, rpc, nil)

	_, err := e.Execute(context.Background(), buyIntent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit")
}
