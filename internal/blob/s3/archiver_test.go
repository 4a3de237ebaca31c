package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbot/internal/domain"
)

type memWriter struct {
	path        string
	contentType string
	data        []byte
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.path, m.contentType, m.data = path, contentType, b
	return nil
}

type memTrades struct {
	records []domain.TradeRecord
}

func (m *memTrades) ListByPosition(context.Context, string) ([]domain.TradeRecord, error) {
	return m.records, nil
}

func TestArchiveClosedWritesSnapshot(t *testing.T) {
	closedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	pos := domain.Position{
		ID:               "pos-1",
		Token:            "mintA",
		EntryPrice:       decimal.RequireFromString("0.001"),
		InitialAmount:    decimal.NewFromInt(1000),
		RemainingAmount:  decimal.Zero,
		StopLossMultiple: decimal.RequireFromString("0.25"),
		Status:           domain.PositionStatusClosed,
		OpenedAt:         closedAt.Add(-2 * time.Hour),
		ClosedAt:         &closedAt,
	}
	trades := &memTrades{records: []domain.TradeRecord{{
		ID:         "trade-1",
		Side:       domain.TradeSideSell,
		Amount:     decimal.NewFromInt(1000),
		Price:      decimal.RequireFromString("0.0015"),
		TxID:       "tx-1",
		Reason:     "take_profit_tier",
		ExecutedAt: closedAt,
	}}}

	w := &memWriter{}
	a := NewArchiver(w, trades)
	require.NoError(t, a.ArchiveClosed(context.Background(), pos))

	assert.Equal(t, "positions/2026-08/mintA-pos-1.json", w.path)
	assert.Equal(t, "application/json", w.contentType)

	var doc snapshot
	require.NoError(t, json.Unmarshal(w.data, &doc))
	assert.Equal(t, "pos-1", doc.Position.ID)
	assert.Equal(t, "0.001", doc.Position.EntryPrice)
	assert.Equal(t, "closed", doc.Position.Status)
	require.Len(t, doc.Trades, 1)
	assert.Equal(t, "tx-1", doc.Trades[0].TxID)
	assert.False(t, doc.ArchivedAt.IsZero())
}

func TestArchiveClosedWithoutTradeHistory(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, nil)

	pos := domain.Position{
		ID:     "pos-2",
		Token:  "mintB",
		Status: domain.PositionStatusClosed,
	}
	require.NoError(t, a.ArchiveClosed(context.Background(), pos))
	assert.NotEmpty(t, w.data)
	assert.Contains(t, w.path, "mintB-pos-2.json")
}
