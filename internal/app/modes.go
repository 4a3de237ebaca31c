package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"solbot/internal/domain"
)

// traderLockTTL is the liveness window on the distributed trader lock. The
// holder refreshes it continuously; a crashed instance frees the wallet
// within one TTL.
const traderLockTTL = 30 * time.Second

// TradeMode runs the full trading loop: signal intake, risk validation, order
// execution, and position monitoring. It holds the distributed trader lock
// for its whole lifetime so two instances can never trade the same wallet
// concurrently.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	release, err := deps.LockManager.Hold(ctx, "trader", traderLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another instance is already trading this wallet: %w", err)
		}
		return fmt.Errorf("app: trader lock: %w", err)
	}
	defer release()

	return a.run(ctx, deps)
}

// MonitorMode runs the same intake and validation path as TradeMode but stops
// short of execution: accepted signals are logged, never traded. No trader
// lock is needed since nothing touches the wallet.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps)
}

// run starts the websocket price push, the alert dispatcher, and the
// orchestrator, then blocks until the context is cancelled.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	if deps.WS != nil {
		// The feed polls regardless; a failed websocket connect only costs
		// push latency, so it downgrades rather than aborts.
		if err := deps.WS.Connect(ctx); err != nil {
			a.logger.Warn("websocket connect failed, continuing with polling only",
				slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Notifier.Run(gctx)
		if gctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		return deps.Orchestrator.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}
