package domain

import "context"

// PositionStore is the durable record of positions. It is written on
// creation and on every state transition, and read once at start-up to
// rehydrate the open set.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	LoadOpen(ctx context.Context) ([]Position, error)
}

// TradeStore persists one row per confirmed fill.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeRecord) error
	ListByPosition(ctx context.Context, positionID string) ([]TradeRecord, error)
}

// PositionArchiver ships a snapshot of a closed position to cold storage.
// Delivery is best-effort; failures must not affect the trading path.
type PositionArchiver interface {
	ArchiveClosed(ctx context.Context, pos Position) error
}
