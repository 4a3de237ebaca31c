// Package position runs the exit ladder for every open position: tiered
// take-profits, the stop-loss, and the bookkeeping that keeps partial exits
// consistent while orders are in flight.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solbot/internal/domain"
	"solbot/internal/feed"
)

const (
	reasonStopLoss = "stop_loss"
	reasonTier     = "take_profit_tier"
)

// TradeExecutor executes exit intents and reconciles ambiguous outcomes.
type TradeExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.Fill, error)
	ConfirmTx(ctx context.Context, txID string) (domain.TxStatus, error)
}

// PriceWatcher is the slice of the price feed the manager needs.
type PriceWatcher interface {
	Watch(token string) error
	Unwatch(token string) error
	Subscribe(token string, h feed.Handler)
}

// ExitGate vets a planned take-profit exit against current market conditions
// before the order is placed. Stop-loss exits bypass the gate: they must fire
// even into a collapsing pool. Optional.
type ExitGate interface {
	ValidateClose(ctx context.Context, pos domain.Position, sample domain.PriceSample) error
}

// Alerter sends operator notifications. Optional.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the exit ladder parameters applied to new positions.
type Config struct {
	Tiers            []domain.Tier
	StopLossMultiple decimal.Decimal
	ReconcileTimeout time.Duration
}

// tracked is one position plus its in-flight accounting. The amount reserved
// for submitted-but-unconfirmed exits never overlaps a new decision.
type tracked struct {
	mu          sync.Mutex
	pos         domain.Position
	inFlight    decimal.Decimal
	tierPending []bool
	stopPending bool
}

// Manager owns every open position. Price updates arrive through the feed
// subscription; exits run asynchronously and mutate position state only
// after their fill confirms.
type Manager struct {
	logger   *slog.Logger
	store    domain.PositionStore
	exec     TradeExecutor
	prices   PriceWatcher
	gate     ExitGate                // optional
	alerter  Alerter                 // optional
	archiver domain.PositionArchiver // optional
	cfg      Config

	mu        sync.Mutex
	positions map[string]*tracked // keyed by token, one active position per token

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewManager builds a Manager. gate, alerter, and archiver may be nil.
func NewManager(logger *slog.Logger, store domain.PositionStore, exec TradeExecutor, prices PriceWatcher, gate ExitGate, alerter Alerter, archiver domain.PositionArchiver, cfg Config) *Manager {
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 60 * time.Second
	}
	return &Manager{
		logger:    logger.With(slog.String("component", "position_manager")),
		store:     store,
		exec:      exec,
		prices:    prices,
		gate:      gate,
		alerter:   alerter,
		archiver:  archiver,
		cfg:       cfg,
		positions: map[string]*tracked{},
		baseCtx:   context.Background(),
	}
}

// Start binds the manager to its run context; exit goroutines inherit it.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
}

// Stop waits for in-flight exits to settle.
func (m *Manager) Stop() {
	m.wg.Wait()
}

// Rehydrate loads every open position from the store and resumes tracking.
// Called once at start-up before any signal is accepted.
func (m *Manager) Rehydrate(ctx context.Context) error {
	open, err := m.store.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: rehydrate: %w", err)
	}
	for _, pos := range open {
		if err := m.track(pos); err != nil {
			return err
		}
	}
	m.logger.Info("positions rehydrated", slog.Int("count", len(open)))
	return nil
}

// OpenFromFill creates and tracks a new position from a confirmed entry
// fill. Only one active position per token is allowed.
func (m *Manager) OpenFromFill(ctx context.Context, token string, fill domain.Fill) (domain.Position, error) {
	m.mu.Lock()
	if _, exists := m.positions[token]; exists {
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position: token %s already has an active position", token)
	}
	m.mu.Unlock()

	pos := domain.Position{
		ID:               uuid.New().String(),
		Token:            token,
		EntryPrice:       fill.Price,
		InitialAmount:    fill.Amount,
		RemainingAmount:  fill.Amount,
		Tiers:            append([]domain.Tier(nil), m.cfg.Tiers...),
		StopLossMultiple: m.cfg.StopLossMultiple,
		Status:           domain.PositionStatusOpen,
		OpenedAt:         fill.FilledAt,
	}
	if err := m.store.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position: create: %w", err)
	}
	if err := m.track(pos); err != nil {
		return domain.Position{}, err
	}

	m.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("token", token),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("amount", pos.InitialAmount.String()))
	m.alert("position_opened", "Position opened",
		fmt.Sprintf("%s: %s tokens at %s SOL", token, pos.InitialAmount, pos.EntryPrice))
	return pos, nil
}

// Get returns a copy of the active position for a token.
func (m *Manager) Get(token string) (domain.Position, bool) {
	m.mu.Lock()
	t, ok := m.positions[token]
	m.mu.Unlock()
	if !ok {
		return domain.Position{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.Clone(), true
}

// Open reports how many positions are currently tracked.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// HandlePrice evaluates one accepted price update against the token's
// position. Decisions happen under the position's lock; the resulting exit
// order runs in its own goroutine and applies only after confirmation.
func (m *Manager) HandlePrice(sample domain.PriceSample) {
	m.mu.Lock()
	t, ok := m.positions[sample.Token]
	m.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	available := t.pos.RemainingAmount.Sub(t.inFlight)
	if available.LessThanOrEqual(decimal.Zero) || t.pos.Status == domain.PositionStatusClosed {
		return
	}

	// Stop-loss takes precedence over every tier.
	if !t.stopPending && sample.Price.LessThanOrEqual(t.pos.StopPrice()) {
		t.stopPending = true
		t.inFlight = t.inFlight.Add(available)
		t.pos.Status = domain.PositionStatusClosing
		m.logger.Warn("stop loss triggered",
			slog.String("position_id", t.pos.ID),
			slog.String("token", t.pos.Token),
			slog.String("price", sample.Price.String()))
		m.spawnExit(t, -1, available, sample.Price, reasonStopLoss)
		return
	}
	if t.stopPending {
		return
	}

	// First eligible tier wins this update; later tiers fire on later ones.
	for i := range t.pos.Tiers {
		tier := t.pos.Tiers[i]
		if tier.Triggered || t.tierPending[i] {
			continue
		}
		if sample.Price.LessThan(t.pos.TierPrice(i)) {
			continue
		}
		amount := available.Mul(tier.SellPercent).Div(decimal.NewFromInt(100))
		if amount.GreaterThan(available) {
			amount = available
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return
		}
		if m.gate != nil {
			if err := m.gate.ValidateClose(m.baseCtx, t.pos.Clone(), sample); err != nil {
				// Retried on the next price update.
				m.logger.Warn("tier exit blocked",
					slog.String("position_id", t.pos.ID),
					slog.String("token", t.pos.Token),
					slog.Int("tier", i),
					slog.String("error", err.Error()))
				return
			}
		}
		t.tierPending[i] = true
		t.inFlight = t.inFlight.Add(amount)
		t.pos.Status = domain.PositionStatusClosing
		m.logger.Info("take-profit tier triggered",
			slog.String("position_id", t.pos.ID),
			slog.String("token", t.pos.Token),
			slog.Int("tier", i),
			slog.String("amount", amount.String()))
		m.spawnExit(t, i, amount, sample.Price, reasonTier)
		return
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// track registers a position and wires it into the price feed.
func (m *Manager) track(pos domain.Position) error {
	t := &tracked{
		pos:         pos,
		inFlight:    decimal.Zero,
		tierPending: make([]bool, len(pos.Tiers)),
	}

	m.mu.Lock()
	m.positions[pos.Token] = t
	m.mu.Unlock()

	if err := m.prices.Watch(pos.Token); err != nil {
		return fmt.Errorf("position: watch %s: %w", pos.Token, err)
	}
	m.prices.Subscribe(pos.Token, m.HandlePrice)
	return nil
}

// spawnExit launches the asynchronous exit. Caller holds t.mu; the reserved
// amount is already accounted in inFlight.
func (m *Manager) spawnExit(t *tracked, tierIdx int, amount, expectedPrice decimal.Decimal, reason string) {
	intent := domain.TradeIntent{
		ID:            uuid.New().String(),
		PositionID:    t.pos.ID,
		Token:         t.pos.Token,
		Side:          domain.TradeSideSell,
		Amount:        amount,
		ExpectedPrice: expectedPrice,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runExit(t, tierIdx, amount, intent)
	}()
}

// runExit executes the exit and settles the reservation.
func (m *Manager) runExit(t *tracked, tierIdx int, reserved decimal.Decimal, intent domain.TradeIntent) {
	fill, err := m.exec.Execute(m.baseCtx, intent)
	switch {
	case err == nil:
		m.applyFill(t, tierIdx, reserved, fill, intent.Reason)

	case errors.Is(err, domain.ErrConfirmationTimeout):
		m.reconcile(t, tierIdx, reserved, fill, intent)

	default:
		m.logger.Warn("exit failed, releasing reservation",
			slog.String("position_id", t.pos.ID),
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()))
		m.release(t, tierIdx, reserved)
	}
}

// reconcile resolves an ambiguous confirmation: one more bounded status
// query against the provisional fill's transaction. An answer settles the
// books; still-pending keeps the reservation so the amount can never be
// double-sold, and flags the position for operator attention.
func (m *Manager) reconcile(t *tracked, tierIdx int, reserved decimal.Decimal, provisional domain.Fill, intent domain.TradeIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconcileTimeout)
	defer cancel()

	status, err := m.exec.ConfirmTx(ctx, provisional.TxID)
	if err != nil {
		m.logger.Error("reconciliation query failed",
			slog.String("tx_id", provisional.TxID),
			slog.String("error", err.Error()))
		status = domain.TxStatusPending
	}

	switch status {
	case domain.TxStatusConfirmed:
		provisional.FilledAt = time.Now().UTC()
		m.applyFill(t, tierIdx, reserved, provisional, intent.Reason)
	case domain.TxStatusFailed:
		m.release(t, tierIdx, reserved)
	default:
		m.logger.Error("transaction unresolved, reservation held",
			slog.String("position_id", t.pos.ID),
			slog.String("tx_id", provisional.TxID))
		m.alert("error", "Unresolved exit transaction",
			fmt.Sprintf("position %s tx %s needs manual reconciliation", t.pos.ID, provisional.TxID))
	}
}

// applyFill commits a confirmed exit: tier flag, exit history, reservation.
func (m *Manager) applyFill(t *tracked, tierIdx int, reserved decimal.Decimal, fill domain.Fill, reason string) {
	t.mu.Lock()

	if tierIdx >= 0 {
		t.pos.Tiers[tierIdx].Triggered = true
		t.tierPending[tierIdx] = false
	} else {
		t.stopPending = false
	}
	t.inFlight = t.inFlight.Sub(reserved)

	amount := fill.Amount
	if amount.GreaterThan(t.pos.RemainingAmount) {
		amount = t.pos.RemainingAmount
	}
	if err := t.pos.ApplyExit(amount, fill.Price, reason, fill.FilledAt); err != nil {
		m.logger.Error("apply exit failed",
			slog.String("position_id", t.pos.ID),
			slog.String("error", err.Error()))
	}
	// ApplyExit reopens a partially exited position; keep it in closing while
	// another exit is still in flight.
	if t.pos.Status == domain.PositionStatusOpen && t.inFlight.IsPositive() {
		t.pos.Status = domain.PositionStatusClosing
	}
	pos := t.pos.Clone()
	t.mu.Unlock()

	m.persist(pos)

	if reason == reasonStopLoss {
		m.alert("stop_loss", "Stop loss executed",
			fmt.Sprintf("%s: sold %s at %s SOL", pos.Token, amount, fill.Price))
	} else {
		m.alert("tier_triggered", "Take-profit tier filled",
			fmt.Sprintf("%s: sold %s at %s SOL", pos.Token, amount, fill.Price))
	}

	if pos.Status == domain.PositionStatusClosed {
		m.close(pos)
	}
}

// release returns a reservation after a failed exit; the tier stays
// untriggered so a later update can retry it.
func (m *Manager) release(t *tracked, tierIdx int, reserved decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tierIdx >= 0 {
		t.tierPending[tierIdx] = false
	} else {
		t.stopPending = false
	}
	t.inFlight = t.inFlight.Sub(reserved)
	if t.pos.Status == domain.PositionStatusClosing && t.inFlight.IsZero() {
		t.pos.Status = domain.PositionStatusOpen
	}
}

// close finishes a fully exited position: untrack, archive, notify.
func (m *Manager) close(pos domain.Position) {
	m.mu.Lock()
	delete(m.positions, pos.Token)
	m.mu.Unlock()

	if err := m.prices.Unwatch(pos.Token); err != nil {
		m.logger.Warn("unwatch failed",
			slog.String("token", pos.Token),
			slog.String("error", err.Error()))
	}

	m.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("token", pos.Token),
		slog.Int("exits", len(pos.Exits)))
	m.alert("position_closed", "Position closed",
		fmt.Sprintf("%s: %d exits, entry %s SOL", pos.Token, len(pos.Exits), pos.EntryPrice))

	if m.archiver != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.archiver.ArchiveClosed(ctx, pos); err != nil {
				m.logger.Warn("archive failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// persist writes the position's current state, logging failures: the
// in-memory state is authoritative between flushes.
func (m *Manager) persist(pos domain.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Update(ctx, pos); err != nil {
		m.logger.Error("position update failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()))
	}
}

// alert sends a fire-and-forget notification.
func (m *Manager) alert(event, title, message string) {
	if m.alerter == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.alerter.Notify(ctx, event, title, message)
	}()
}

// Health implements domain.HealthReporter.
func (m *Manager) Health() domain.ComponentHealth {
	return domain.ComponentHealth{Component: "position_manager", Healthy: true}
}
