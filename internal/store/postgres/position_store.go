package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"solbot/internal/domain"
)

// PositionStore implements domain.PositionStore. The tier ladder and exit
// history live in JSONB columns: they are read and written whole with the
// position and never queried independently.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore builds a PositionStore on the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tiers, exits, err := marshalLadder(p)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, token, entry_price, initial_amount, remaining_amount,
			tiers, stop_loss_multiple, exits, status, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Token, p.EntryPrice, p.InitialAmount, p.RemainingAmount,
		tiers, p.StopLossMultiple, exits, string(p.Status), p.OpenedAt, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces every mutable field of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tiers, exits, err := marshalLadder(p)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			remaining_amount = $2,
			tiers            = $3,
			exits            = $4,
			status           = $5,
			closed_at        = $6,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.RemainingAmount, tiers, exits, string(p.Status), p.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LoadOpen returns every position that is not closed, oldest first so
// rehydration tracks them in opening order.
func (s *PositionStore) LoadOpen(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT id, token, entry_price, initial_amount, remaining_amount,
		       tiers, stop_loss_multiple, exits, status, opened_at, closed_at
		FROM positions
		WHERE status <> 'closed'
		ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var (
			p            domain.Position
			status       string
			tiers, exits []byte
		)
		if err := rows.Scan(
			&p.ID, &p.Token, &p.EntryPrice, &p.InitialAmount, &p.RemainingAmount,
			&tiers, &p.StopLossMultiple, &exits, &status, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
			return nil, fmt.Errorf("position %s tiers: %w", p.ID, err)
		}
		if err := json.Unmarshal(exits, &p.Exits); err != nil {
			return nil, fmt.Errorf("position %s exits: %w", p.ID, err)
		}
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func marshalLadder(p domain.Position) (tiers, exits []byte, err error) {
	if tiers, err = json.Marshal(p.Tiers); err != nil {
		return nil, nil, fmt.Errorf("marshal tiers: %w", err)
	}
	if p.Exits == nil {
		exits = []byte("[]")
		return tiers, exits, nil
	}
	if exits, err = json.Marshal(p.Exits); err != nil {
		return nil, nil, fmt.Errorf("marshal exits: %w", err)
	}
	return tiers, exits, nil
}
