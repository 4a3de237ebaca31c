package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

// signalEnvelope is the JSON wire format published on the signal channel by
// external producers.
type signalEnvelope struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Token          string          `json:"token"`
	Side           string          `json:"side"`
	Notional       decimal.Decimal `json:"notional"`
	MaxSlippagePct decimal.Decimal `json:"max_slippage_pct"`
	Reason         string          `json:"reason"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// decodeSignal parses and validates one published payload. A payload without
// an ID still gets one so downstream logging can reference it, but such
// signals cannot be deduplicated across producers.
func decodeSignal(payload []byte) (domain.TradeSignal, error) {
	var env signalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.TradeSignal{}, fmt.Errorf("orchestrator: decode signal: %w", err)
	}

	if env.Token == "" {
		return domain.TradeSignal{}, fmt.Errorf("orchestrator: signal without token mint")
	}

	side := domain.TradeSide(env.Side)
	switch side {
	case "":
		side = domain.TradeSideBuy
	case domain.TradeSideBuy, domain.TradeSideSell:
	default:
		return domain.TradeSignal{}, fmt.Errorf("orchestrator: unknown signal side %q", env.Side)
	}

	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	return domain.TradeSignal{
		ID:             env.ID,
		Source:         env.Source,
		Token:          env.Token,
		Side:           side,
		Notional:       env.Notional,
		MaxSlippagePct: env.MaxSlippagePct,
		Reason:         env.Reason,
		CreatedAt:      env.CreatedAt,
		ExpiresAt:      env.ExpiresAt,
	}, nil
}
