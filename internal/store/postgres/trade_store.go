package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"solbot/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore builds a TradeStore on the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert writes one confirmed fill. Replays of the same row are silently
// skipped so a reconciled trade cannot be double-recorded.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, position_id, token, side, amount, price, fee, tx_id, reason, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, nullable(t.PositionID), t.Token, string(t.Side),
		t.Amount, t.Price, t.Fee, t.TxID, t.Reason, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByPosition returns a position's fills in execution order.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.TradeRecord, error) {
	const query = `
		SELECT id, position_id, token, side, amount, price, fee, tx_id, reason, executed_at
		FROM trades
		WHERE position_id = $1
		ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", positionID, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", positionID, err)
	}
	return trades, nil
}

func scanTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t          domain.TradeRecord
			positionID *string
			side       string
		)
		if err := rows.Scan(
			&t.ID, &positionID, &t.Token, &side,
			&t.Amount, &t.Price, &t.Fee, &t.TxID, &t.Reason, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		if positionID != nil {
			t.PositionID = *positionID
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// nullable maps an empty string to SQL NULL. Entry fills recorded before a
// position exists carry no position ID.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
