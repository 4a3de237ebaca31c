package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"solbot/internal/domain"
)

// blobWriter is the slice of Writer the archiver needs.
type blobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// tradeHistory provides the fills belonging to a position.
type tradeHistory interface {
	ListByPosition(ctx context.Context, positionID string) ([]domain.TradeRecord, error)
}

// snapshot is the archived document: the final position state plus every
// fill that built and unwound it.
type snapshot struct {
	Position   positionDoc `json:"position"`
	Trades     []tradeDoc  `json:"trades"`
	ArchivedAt time.Time   `json:"archived_at"`
}

type positionDoc struct {
	ID               string        `json:"id"`
	Token            string        `json:"token"`
	EntryPrice       string        `json:"entry_price"`
	InitialAmount    string        `json:"initial_amount"`
	RemainingAmount  string        `json:"remaining_amount"`
	Tiers            []domain.Tier `json:"tiers"`
	StopLossMultiple string        `json:"stop_loss_multiple"`
	Exits            []domain.Exit `json:"exits"`
	Status           string        `json:"status"`
	OpenedAt         time.Time     `json:"opened_at"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
}

type tradeDoc struct {
	ID         string    `json:"id"`
	Side       string    `json:"side"`
	Amount     string    `json:"amount"`
	Price      string    `json:"price"`
	Fee        string    `json:"fee"`
	TxID       string    `json:"tx_id"`
	Reason     string    `json:"reason"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Archiver implements domain.PositionArchiver: one JSON document per closed
// position, partitioned by close month. trades may be nil when fill
// persistence is disabled; the snapshot then carries the exit history only.
type Archiver struct {
	writer blobWriter
	trades tradeHistory
}

// NewArchiver builds an Archiver. trades may be nil.
func NewArchiver(writer blobWriter, trades tradeHistory) *Archiver {
	return &Archiver{writer: writer, trades: trades}
}

// ArchiveClosed uploads the snapshot for one closed position.
func (a *Archiver) ArchiveClosed(ctx context.Context, pos domain.Position) error {
	doc := snapshot{
		Position:   toPositionDoc(pos),
		ArchivedAt: time.Now().UTC(),
	}

	if a.trades != nil {
		records, err := a.trades.ListByPosition(ctx, pos.ID)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s: trade history: %w", pos.ID, err)
		}
		doc.Trades = make([]tradeDoc, 0, len(records))
		for _, r := range records {
			doc.Trades = append(doc.Trades, toTradeDoc(r))
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("s3blob: archive %s: encode: %w", pos.ID, err)
	}

	path := archivePath(pos)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s: upload: %w", pos.ID, err)
	}
	return nil
}

// archivePath partitions snapshots by close month:
//
//	positions/2026-08/<token>-<id>.json
func archivePath(pos domain.Position) string {
	closedAt := time.Now().UTC()
	if pos.ClosedAt != nil {
		closedAt = pos.ClosedAt.UTC()
	}
	return fmt.Sprintf("positions/%s/%s-%s.json", closedAt.Format("2006-01"), pos.Token, pos.ID)
}

func toPositionDoc(p domain.Position) positionDoc {
	return positionDoc{
		ID:               p.ID,
		Token:            p.Token,
		EntryPrice:       p.EntryPrice.String(),
		InitialAmount:    p.InitialAmount.String(),
		RemainingAmount:  p.RemainingAmount.String(),
		Tiers:            p.Tiers,
		StopLossMultiple: p.StopLossMultiple.String(),
		Exits:            p.Exits,
		Status:           string(p.Status),
		OpenedAt:         p.OpenedAt,
		ClosedAt:         p.ClosedAt,
	}
}

func toTradeDoc(r domain.TradeRecord) tradeDoc {
	return tradeDoc{
		ID:         r.ID,
		Side:       string(r.Side),
		Amount:     r.Amount.String(),
		Price:      r.Price.String(),
		Fee:        r.Fee.String(),
		TxID:       r.TxID,
		Reason:     r.Reason,
		ExecutedAt: r.ExecutedAt,
	}
}

// Compile-time interface check.
var _ domain.PositionArchiver = (*Archiver)(nil)
