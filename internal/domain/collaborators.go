package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// SwapProvider quotes and builds swap transactions (the aggregator API).
type SwapProvider interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount, slippagePct decimal.Decimal) (Quote, error)
	BuildSwapTransaction(ctx context.Context, quote Quote, owner string) (UnsignedTx, error)
}

// PriceProvider serves spot prices with pool depth.
type PriceProvider interface {
	GetPrice(ctx context.Context, token, vsToken string) (PriceSample, error)
}

// RPCProvider talks to the chain: submission, confirmation, balances.
type RPCProvider interface {
	SubmitTransaction(ctx context.Context, tx SignedTx) (txID string, err error)
	GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Signer signs transactions. Key material stays entirely on the other side
// of this interface.
type Signer interface {
	Sign(ctx context.Context, tx UnsignedTx) (SignedTx, error)
}

// TokenResolver answers whether a mint is known and whether it is banned.
type TokenResolver interface {
	Resolve(ctx context.Context, mint string) (Token, error)
	Blacklisted(mint string) bool
}
