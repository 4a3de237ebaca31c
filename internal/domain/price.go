package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one observation of a token's price and pool depth.
type PriceSample struct {
	Token      string
	Price      decimal.Decimal
	Liquidity  decimal.Decimal // pool depth in the vs-token (SOL)
	ObservedAt time.Time
	Source     string // "poll" or "push"
}

// FreshAt reports whether the sample is recent enough to act on.
func (s PriceSample) FreshAt(now time.Time, maxAge time.Duration) bool {
	if s.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(s.ObservedAt) <= maxAge
}

// Token is resolved token metadata from the aggregator's token list.
type Token struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
	Verified bool
}
