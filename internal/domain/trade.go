package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide indicates whether this is a buy or sell.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeSignal is an external request to open a position, already parsed into
// a well-formed structure by the signal source.
type TradeSignal struct {
	ID             string // UUID for dedup
	Source         string // e.g. channel name
	Token          string // mint address
	Side           TradeSide
	Notional       decimal.Decimal // SOL to commit; zero means "use configured position size"
	MaxSlippagePct decimal.Decimal // zero means "use configured default"
	Reason         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// TradeIntent is a validated, immutable instruction for the order executor.
// It is created by the orchestrator from a signal, or by the position manager
// from an exit decision.
type TradeIntent struct {
	ID             string
	PositionID     string // set for exits
	Token          string
	Side           TradeSide
	Amount         decimal.Decimal // input amount: SOL for buys, tokens for sells
	ExpectedPrice  decimal.Decimal // last known price; zero skips the slippage re-check
	MaxSlippagePct decimal.Decimal
	Reason         string
	CreatedAt      time.Time
}

// Quote is the aggregator's answer for a proposed swap.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	EffectivePrice decimal.Decimal // out-token price implied by the route
	PriceImpactPct decimal.Decimal
	RoutePlan      string // opaque route identifier passed back to the swap builder
}

// UnsignedTx is a serialized transaction awaiting signature. The engine never
// inspects or constructs its contents.
type UnsignedTx []byte

// SignedTx is a serialized signed transaction ready for submission.
type SignedTx []byte

// TxStatus is the terminal/non-terminal state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Fill is the confirmed result of an executed trade intent. Amount is always
// the token quantity moved: tokens received on a buy, tokens sold on a sell.
type Fill struct {
	IntentID string
	Amount   decimal.Decimal
	Price    decimal.Decimal // executed price in SOL per token
	Fee      decimal.Decimal
	TxID     string
	FilledAt time.Time
}

// TradeRecord is the durable row written for every confirmed fill.
type TradeRecord struct {
	ID         string
	PositionID string
	Token      string
	Side       TradeSide
	Amount     decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	TxID       string
	Reason     string
	ExecutedAt time.Time
}
