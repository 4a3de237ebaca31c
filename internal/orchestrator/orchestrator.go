// Package orchestrator runs the trading loop: it consumes published signals,
// gates them through risk checks, executes entries, and hands confirmed fills
// to the position manager. It also supervises the long-running component
// goroutines and the health check loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solbot/internal/domain"
)

// TradeExecutor executes entry intents and answers reconciliation queries.
type TradeExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.Fill, error)
	ConfirmTx(ctx context.Context, txID string) (domain.TxStatus, error)
}

// RiskChecker gates proposed entries and sizes them. The wallet balance is
// fetched once per signal and passed into the checks, which work on their
// arguments alone.
type RiskChecker interface {
	WalletBalance(ctx context.Context) (decimal.Decimal, error)
	PositionSize(balance decimal.Decimal) decimal.Decimal
	ValidateEntry(ctx context.Context, token string, notional, walletBalance decimal.Decimal, sample domain.PriceSample) error
}

// PositionBook is the slice of the position manager the orchestrator drives.
type PositionBook interface {
	Start(ctx context.Context)
	Stop()
	Rehydrate(ctx context.Context) error
	Open() int
	Get(token string) (domain.Position, bool)
	OpenFromFill(ctx context.Context, token string, fill domain.Fill) (domain.Position, error)
}

// EndpointRegistry is the endpoint health loop lifecycle.
type EndpointRegistry interface {
	Start(ctx context.Context)
	Stop()
}

// Runner is a long-running component supervised by the orchestrator (the
// price feed).
type Runner interface {
	Run(ctx context.Context) error
}

// Alerter sends operator notifications. Optional.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the orchestrator's own parameters.
type Config struct {
	SignalChannel    string
	VsToken          string // quote mint for entry price lookups
	DedupTTL         time.Duration
	HealthInterval   time.Duration
	ReconcileTimeout time.Duration // bound on the ambiguous-entry status query
	MaxPositions     int
	Monitor          bool // validate and log entries without trading
}

// Orchestrator owns start-up and shutdown ordering: the endpoint registry and
// position book come up before signal intake starts; on shutdown, intake
// stops first and in-flight executions are allowed to reach a verdict.
type Orchestrator struct {
	logger    *slog.Logger
	bus       domain.SignalBus
	prices    domain.PriceProvider
	risk      RiskChecker
	exec      TradeExecutor
	positions PositionBook
	registry  EndpointRegistry // optional
	feed      Runner           // optional
	alerter   Alerter          // optional
	reporters []domain.HealthReporter
	dedup     *dedup
	cfg       Config

	lastHealthy map[string]bool
}

// New builds an Orchestrator. registry, feed, and alerter may be nil;
// reporters may be empty.
func New(logger *slog.Logger, bus domain.SignalBus, prices domain.PriceProvider, risk RiskChecker, exec TradeExecutor, positions PositionBook, cfg Config) *Orchestrator {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Minute
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 60 * time.Second
	}
	return &Orchestrator{
		logger:      logger.With(slog.String("component", "orchestrator")),
		bus:         bus,
		prices:      prices,
		risk:        risk,
		exec:        exec,
		positions:   positions,
		dedup:       newDedup(cfg.DedupTTL),
		cfg:         cfg,
		lastHealthy: map[string]bool{},
	}
}

// WithRegistry attaches the endpoint registry lifecycle.
func (o *Orchestrator) WithRegistry(r EndpointRegistry) *Orchestrator {
	o.registry = r
	return o
}

// WithFeed attaches the price feed runner.
func (o *Orchestrator) WithFeed(f Runner) *Orchestrator {
	o.feed = f
	return o
}

// WithAlerter attaches operator notifications.
func (o *Orchestrator) WithAlerter(a Alerter) *Orchestrator {
	o.alerter = a
	return o
}

// WithHealthReporters attaches the components polled by the health loop.
func (o *Orchestrator) WithHealthReporters(rs ...domain.HealthReporter) *Orchestrator {
	o.reporters = append(o.reporters, rs...)
	return o
}

// Run brings the components up in dependency order, consumes signals until
// ctx is cancelled, then shuts down in reverse: intake stops with the
// context, in-flight exits settle via the position book's Stop, and the
// registry loop stops last.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.registry != nil {
		o.registry.Start(ctx)
		defer o.registry.Stop()
	}

	o.positions.Start(ctx)
	if err := o.positions.Rehydrate(ctx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if o.feed != nil {
		g.Go(func() error {
			err := o.feed.Run(gctx)
			if gctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("orchestrator: price feed: %w", err)
		})
	}

	g.Go(func() error {
		err := o.signalLoop(gctx)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		o.maintenanceLoop(gctx)
		return nil
	})

	o.logger.Info("orchestrator started",
		slog.String("signal_channel", o.cfg.SignalChannel),
		slog.Bool("monitor", o.cfg.Monitor))

	err := g.Wait()

	// Intake is closed; let submitted exits reach a verdict before the
	// process exits.
	o.positions.Stop()

	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// --------------------------------------------------------------------------
// Signal intake
// --------------------------------------------------------------------------

func (o *Orchestrator) signalLoop(ctx context.Context) error {
	ch, err := o.bus.Subscribe(ctx, o.cfg.SignalChannel)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe %s: %w", o.cfg.SignalChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return errors.New("orchestrator: signal channel closed")
			}
			sig, err := decodeSignal(payload)
			if err != nil {
				o.logger.Warn("discarding malformed signal", slog.String("error", err.Error()))
				continue
			}
			o.handleSignal(ctx, sig)
		}
	}
}

// handleSignal runs one signal through dedup, gating, execution, and position
// opening. Every rejection is logged with its reason; none of them is an
// error for the loop.
func (o *Orchestrator) handleSignal(ctx context.Context, sig domain.TradeSignal) {
	log := o.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("token", sig.Token),
		slog.String("source", sig.Source),
	)

	if o.dedup.observe(sig.ID) {
		log.Debug("duplicate signal dropped")
		return
	}
	if !sig.ExpiresAt.IsZero() && time.Now().After(sig.ExpiresAt) {
		log.Info("expired signal dropped", slog.Time("expires_at", sig.ExpiresAt))
		return
	}
	if sig.Side != domain.TradeSideBuy {
		// Exits belong to the position manager's ladder.
		log.Warn("non-buy signal ignored", slog.String("side", string(sig.Side)))
		return
	}
	if _, held := o.positions.Get(sig.Token); held {
		log.Info("signal dropped, token already held")
		return
	}
	if o.cfg.MaxPositions > 0 && o.positions.Open() >= o.cfg.MaxPositions {
		log.Info("signal dropped, position limit reached", slog.Int("open", o.positions.Open()))
		return
	}

	sample, err := o.prices.GetPrice(ctx, sig.Token, o.cfg.VsToken)
	if err != nil {
		log.Warn("entry price lookup failed", slog.String("error", err.Error()))
		return
	}

	balance, err := o.risk.WalletBalance(ctx)
	if err != nil {
		log.Warn("wallet balance lookup failed", slog.String("error", err.Error()))
		return
	}

	notional := sig.Notional
	if notional.IsZero() {
		notional = o.risk.PositionSize(balance)
	}

	if err := o.risk.ValidateEntry(ctx, sig.Token, notional, balance, sample); err != nil {
		reason := domain.RejectReasonOf(err)
		log.Info("signal rejected",
			slog.String("reason", string(reason)),
			slog.String("detail", err.Error()))
		o.alert("signal_rejected", "Signal rejected",
			fmt.Sprintf("%s from %s: %s", sig.Token, sig.Source, reason))
		return
	}

	if o.cfg.Monitor {
		log.Info("monitor mode, entry not executed",
			slog.String("notional", notional.String()),
			slog.String("price", sample.Price.String()))
		return
	}

	o.openPosition(ctx, log, sig, notional, sample)
}

// openPosition executes the entry and registers the resulting position. An
// ambiguous confirmation gets one bounded reconciliation query so a buy that
// landed late is never left untracked.
func (o *Orchestrator) openPosition(ctx context.Context, log *slog.Logger, sig domain.TradeSignal, notional decimal.Decimal, sample domain.PriceSample) {
	intent := domain.TradeIntent{
		ID:             uuid.New().String(),
		Token:          sig.Token,
		Side:           domain.TradeSideBuy,
		Amount:         notional,
		ExpectedPrice:  sample.Price,
		MaxSlippagePct: sig.MaxSlippagePct,
		Reason:         "signal:" + sig.Source,
		CreatedAt:      time.Now().UTC(),
	}

	fill, err := o.exec.Execute(ctx, intent)
	switch {
	case err == nil:

	case errors.Is(err, domain.ErrConfirmationTimeout):
		// Shutdown must not abandon a submitted buy: the reconciliation query
		// and the tracking that follows run on their own bounded clock.
		rctx, cancel := context.WithTimeout(context.Background(), o.cfg.ReconcileTimeout)
		defer cancel()
		status, cErr := o.exec.ConfirmTx(rctx, fill.TxID)
		if cErr != nil || status != domain.TxStatusConfirmed {
			log.Error("entry unresolved", slog.String("tx_id", fill.TxID))
			o.alert("error", "Unresolved entry transaction",
				fmt.Sprintf("signal %s tx %s needs manual reconciliation", sig.ID, fill.TxID))
			return
		}
		fill.FilledAt = time.Now().UTC()
		ctx = rctx

	default:
		log.Warn("entry execution failed", slog.String("error", err.Error()))
		return
	}

	if _, err := o.positions.OpenFromFill(ctx, sig.Token, fill); err != nil {
		log.Error("position open failed after confirmed entry",
			slog.String("tx_id", fill.TxID),
			slog.String("error", err.Error()))
		o.alert("error", "Untracked confirmed entry",
			fmt.Sprintf("token %s tx %s filled but could not be tracked", sig.Token, fill.TxID))
	}
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// maintenanceLoop runs the dedup sweep and the health poll on one ticker.
func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.dedup.sweep()
			o.checkHealth()
		}
	}
}

// checkHealth polls every reporter and alerts on healthy-to-unhealthy
// transitions only, so a flapping component does not flood the operator.
func (o *Orchestrator) checkHealth() {
	for _, r := range o.reporters {
		h := r.Health()
		was, known := o.lastHealthy[h.Component]
		o.lastHealthy[h.Component] = h.Healthy

		if h.Healthy {
			if known && !was {
				o.logger.Info("component recovered", slog.String("health_component", h.Component))
			}
			continue
		}
		o.logger.Warn("component unhealthy",
			slog.String("health_component", h.Component),
			slog.String("detail", h.Detail))
		if !known || was {
			o.alert("error", "Component unhealthy",
				fmt.Sprintf("%s: %s", h.Component, h.Detail))
		}
	}
}

// alert sends a fire-and-forget notification.
func (o *Orchestrator) alert(event, title, message string) {
	if o.alerter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = o.alerter.Notify(ctx, event, title, message)
	}()
}
