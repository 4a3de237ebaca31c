package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks the position lifecycle. "closing" is the window where
// an exit order has been submitted but not yet confirmed.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Tier is one take-profit step: when price reaches EntryPrice*Multiple, sell
// SellPercent of the remaining amount. Triggered is set only after the exit
// fill confirms and is never cleared.
type Tier struct {
	Multiple    decimal.Decimal `json:"multiple"`
	SellPercent decimal.Decimal `json:"sell_percent"`
	Triggered   bool            `json:"triggered"`
}

// Exit is one confirmed (partial or full) exit from a position.
type Exit struct {
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason"`
	Time   time.Time       `json:"time"`
}

// Position is an open or historical holding of a single token.
type Position struct {
	ID               string
	Token            string
	EntryPrice       decimal.Decimal
	InitialAmount    decimal.Decimal
	RemainingAmount  decimal.Decimal
	Tiers            []Tier
	StopLossMultiple decimal.Decimal
	Exits            []Exit
	Status           PositionStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
}

// StopPrice is the price at or below which the whole position is dumped.
func (p Position) StopPrice() decimal.Decimal {
	return p.EntryPrice.Mul(p.StopLossMultiple)
}

// TierPrice is the trigger price of tier i.
func (p Position) TierPrice(i int) decimal.Decimal {
	return p.EntryPrice.Mul(p.Tiers[i].Multiple)
}

// ExitedAmount is the sum of all confirmed exits.
func (p Position) ExitedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Exits {
		total = total.Add(e.Amount)
	}
	return total
}

// ApplyExit records a confirmed exit: appends to history, decrements the
// remaining amount, and closes the position when nothing is left. The amount
// must not exceed the remaining amount.
func (p *Position) ApplyExit(amount, price decimal.Decimal, reason string, at time.Time) error {
	if p.Status == PositionStatusClosed {
		return ErrPositionClosed
	}
	if amount.GreaterThan(p.RemainingAmount) {
		return fmt.Errorf("exit %s exceeds remaining %s: %w",
			amount, p.RemainingAmount, ErrInvalidExit)
	}
	p.Exits = append(p.Exits, Exit{Amount: amount, Price: price, Reason: reason, Time: at})
	p.RemainingAmount = p.RemainingAmount.Sub(amount)
	if p.RemainingAmount.IsZero() {
		p.Status = PositionStatusClosed
		t := at
		p.ClosedAt = &t
	} else {
		p.Status = PositionStatusOpen
	}
	return nil
}

// ErrInvalidExit rejects an exit larger than the remaining amount.
var ErrInvalidExit = fmt.Errorf("invalid exit amount")

// Clone returns a deep copy safe to hand outside the owning component.
func (p Position) Clone() Position {
	out := p
	out.Tiers = append([]Tier(nil), p.Tiers...)
	out.Exits = append([]Exit(nil), p.Exits...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}
