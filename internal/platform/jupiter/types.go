package jupiter

import "github.com/shopspring/decimal"

// quoteResponse is the aggregator's /quote payload. Amounts arrive as
// strings in base units.
type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       decimal.Decimal `json:"inAmount"`
	OutAmount      decimal.Decimal `json:"outAmount"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
	RoutePlan      string          `json:"routePlan"`
}

// swapRequest is the /swap payload asking for a serialized transaction.
type swapRequest struct {
	QuoteRoute    string `json:"quoteRoute"`
	UserPublicKey string `json:"userPublicKey"`
	WrapUnwrapSOL bool   `json:"wrapAndUnwrapSol"`
}

// swapResponse carries the base64-encoded unsigned transaction.
type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// priceResponse is the /price payload keyed by mint.
type priceResponse struct {
	Data map[string]priceEntry `json:"data"`
}

type priceEntry struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Liquidity decimal.Decimal `json:"liquidity"`
	VsToken   string          `json:"vsToken"`
}

// errorResponse is the aggregator's error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// tokenEntry is one row of the public token list.
type tokenEntry struct {
	Address  string   `json:"address"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Decimals int      `json:"decimals"`
	Tags     []string `json:"tags"`
}
