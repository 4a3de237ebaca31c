// Package executor turns trade intents into confirmed fills: quote, slippage
// re-check, build, sign, submit, confirm.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

const (
	// confirmPollStart is the first status poll delay after submission.
	confirmPollStart = 1 * time.Second

	// confirmPollCap bounds the growing poll interval.
	confirmPollCap = 5 * time.Second
)

// Config holds execution parameters.
type Config struct {
	DefaultSlippagePct  decimal.Decimal
	ConfirmationTimeout time.Duration
	VsToken             string // the quote mint, normally wrapped SOL
}

// OrderExecutor executes one intent at a time against the aggregator and the
// chain. It owns the confirmation lifecycle, including the ambiguous-timeout
// path.
type OrderExecutor struct {
	logger *slog.Logger
	swaps  domain.SwapProvider
	rpc    domain.RPCProvider
	signer domain.Signer
	trades domain.TradeStore // optional
	owner  string
	cfg    Config
}

// New builds an OrderExecutor for the given owner wallet. trades may be nil
// to skip fill persistence.
func New(logger *slog.Logger, swaps domain.SwapProvider, rpc domain.RPCProvider, signer domain.Signer, trades domain.TradeStore, owner string, cfg Config) *OrderExecutor {
	return &OrderExecutor{
		logger: logger.With(slog.String("component", "order_executor")),
		swaps:  swaps,
		rpc:    rpc,
		signer: signer,
		trades: trades,
		owner:  owner,
		cfg:    cfg,
	}
}

// Execute runs an intent through the full pipeline and blocks until the fill
// confirms, fails, or the confirmation window closes. A confirmation window
// close returns domain.ErrConfirmationTimeout with the transaction ID wrapped
// in; the outcome is then unknown and the caller must reconcile via
// ConfirmTx before treating the trade as dead.
func (e *OrderExecutor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.Fill, error) {
	log := e.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("token", intent.Token),
		slog.String("side", string(intent.Side)),
	)

	inputMint, outputMint := e.cfg.VsToken, intent.Token
	if intent.Side == domain.TradeSideSell {
		inputMint, outputMint = intent.Token, e.cfg.VsToken
	}

	slippage := intent.MaxSlippagePct
	if slippage.IsZero() {
		slippage = e.cfg.DefaultSlippagePct
	}

	quote, err := e.swaps.GetQuote(ctx, inputMint, outputMint, intent.Amount, slippage)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: quote: %w", err)
	}

	if err := e.checkSlippage(intent, quote, slippage); err != nil {
		return domain.Fill{}, err
	}

	unsigned, err := e.swaps.BuildSwapTransaction(ctx, quote, e.owner)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: build swap: %w", err)
	}

	signed, err := e.signer.Sign(ctx, unsigned)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: sign: %w", err)
	}

	txID, err := e.rpc.SubmitTransaction(ctx, signed)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: submit: %w", err)
	}
	log.Info("transaction submitted", slog.String("tx_id", txID))

	// From here on money may be in flight, so confirmation runs detached
	// from the caller's context: a shutdown must not abandon a pending
	// transaction's verdict.
	confirmCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ConfirmationTimeout)
	defer cancel()

	status, err := e.ConfirmTx(confirmCtx, txID)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: confirm %s: %w", txID, err)
	}

	switch status {
	case domain.TxStatusConfirmed:
		fill := e.buildFill(intent, quote, txID)
		e.record(intent, fill)
		log.Info("fill confirmed",
			slog.String("tx_id", txID),
			slog.String("amount", fill.Amount.String()),
			slog.String("price", fill.Price.String()))
		return fill, nil

	case domain.TxStatusFailed:
		log.Warn("transaction failed on chain", slog.String("tx_id", txID))
		return domain.Fill{}, fmt.Errorf("executor: tx %s: %w", txID, domain.ErrTxFailed)

	default:
		log.Warn("confirmation window closed, outcome unknown", slog.String("tx_id", txID))
		// The provisional fill carries the tx ID and quoted amounts so the
		// caller can reconcile and settle if the tx later confirms.
		return e.buildFill(intent, quote, txID), fmt.Errorf("executor: tx %s: %w", txID, domain.ErrConfirmationTimeout)
	}
}

// ConfirmTx polls the transaction status with a growing interval until a
// terminal state or ctx expiry. Expiry yields TxStatusPending and no error:
// pending is a real answer during reconciliation.
func (e *OrderExecutor) ConfirmTx(ctx context.Context, txID string) (domain.TxStatus, error) {
	delay := confirmPollStart
	for {
		status, err := e.rpc.GetTransactionStatus(ctx, txID)
		if err != nil {
			if ctx.Err() != nil {
				return domain.TxStatusPending, nil
			}
			e.logger.Warn("status query failed",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()))
		} else if status != domain.TxStatusPending {
			return status, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.TxStatusPending, nil
		case <-timer.C:
		}
		delay = delay * 3 / 2
		if delay > confirmPollCap {
			delay = confirmPollCap
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// checkSlippage re-validates the quote against the price the decision was
// made at. Without an expected price there is nothing to compare.
func (e *OrderExecutor) checkSlippage(intent domain.TradeIntent, quote domain.Quote, slippage decimal.Decimal) error {
	if intent.ExpectedPrice.IsZero() || quote.EffectivePrice.IsZero() {
		return nil
	}
	deviation := quote.EffectivePrice.Sub(intent.ExpectedPrice).
		Div(intent.ExpectedPrice).
		Mul(decimal.NewFromInt(100)).
		Abs()
	if deviation.GreaterThan(slippage) {
		return fmt.Errorf("executor: quoted %s vs expected %s (%s%%): %w",
			quote.EffectivePrice, intent.ExpectedPrice, deviation.Round(2), domain.ErrSlippageExceeded)
	}
	return nil
}

// buildFill normalizes the quote into token units: tokens received on a buy,
// tokens sold on a sell.
func (e *OrderExecutor) buildFill(intent domain.TradeIntent, quote domain.Quote, txID string) domain.Fill {
	amount := quote.OutAmount
	price := quote.EffectivePrice
	if intent.Side == domain.TradeSideSell {
		amount = quote.InAmount
		if !quote.InAmount.IsZero() {
			price = quote.OutAmount.Div(quote.InAmount)
		}
	}
	return domain.Fill{
		IntentID: intent.ID,
		Amount:   amount,
		Price:    price,
		TxID:     txID,
		FilledAt: time.Now().UTC(),
	}
}

// record persists the fill. Persistence failures are logged, not returned:
// the trade already happened.
func (e *OrderExecutor) record(intent domain.TradeIntent, fill domain.Fill) {
	if e.trades == nil {
		return
	}
	rec := domain.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: intent.PositionID,
		Token:      intent.Token,
		Side:       intent.Side,
		Amount:     fill.Amount,
		Price:      fill.Price,
		Fee:        fill.Fee,
		TxID:       fill.TxID,
		Reason:     intent.Reason,
		ExecutedAt: fill.FilledAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.trades.Insert(ctx, rec); err != nil {
		e.logger.Error("trade record insert failed",
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()))
	}
}
