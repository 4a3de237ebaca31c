package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

// priceTTL bounds how long a mirrored sample outlives its last write. Stale
// mirror entries disappear rather than serving dead prices to readers.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache on Redis hashes. Each token's
// latest sample lives at "price:{mint}" with fields price, liquidity, ts
// (Unix nanoseconds), and source.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache builds a PriceCache on the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(token string) string {
	return "price:" + token
}

// SetPrice mirrors the latest accepted sample for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, s domain.PriceSample) error {
	key := priceKey(s.Token)
	fields := map[string]any{
		"price":     s.Price.String(),
		"liquidity": s.Liquidity.String(),
		"ts":        strconv.FormatInt(s.ObservedAt.UnixNano(), 10),
		"source":    s.Source,
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", s.Token, err)
	}
	return nil
}

// GetPrice reads the mirrored sample for a token. A missing key is
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, token string) (domain.PriceSample, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	if len(vals) == 0 {
		return domain.PriceSample{}, domain.ErrNotFound
	}

	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse price %s: %w", token, err)
	}
	liquidity, err := decimal.NewFromString(vals["liquidity"])
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse liquidity %s: %w", token, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse ts %s: %w", token, err)
	}

	return domain.PriceSample{
		Token:      token,
		Price:      price,
		Liquidity:  liquidity,
		ObservedAt: time.Unix(0, tsNano),
		Source:     vals["source"],
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
