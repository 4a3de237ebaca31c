// Package request runs outbound API calls with per-attempt timeouts,
// exponential backoff, and failover across the endpoint registry.
package request

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"solbot/internal/domain"
	"solbot/internal/endpoint"
)

// Op is one attempt of an outbound call against a concrete endpoint. The
// context passed in carries the per-attempt timeout.
type Op func(ctx context.Context, ep domain.Endpoint) error

// Options tunes a single Do call. Zero values fall back to the executor's
// configured defaults.
type Options struct {
	MaxRetries        int
	PerAttemptTimeout time.Duration
	PreferredVersion  string
	RateKey           string
}

// Config holds the executor's default retry parameters.
type Config struct {
	MaxRetries        int
	PerAttemptTimeout time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	RateLimit         int
	RateWindow        time.Duration
}

// Executor owns the retry loop shared by every platform client.
type Executor struct {
	logger   *slog.Logger
	registry *endpoint.Registry
	limiter  domain.RateLimiter // optional
	cfg      Config
}

// New builds an Executor. limiter may be nil to disable the outbound budget.
func New(logger *slog.Logger, registry *endpoint.Registry, limiter domain.RateLimiter, cfg Config) *Executor {
	return &Executor{
		logger:   logger.With(slog.String("component", "request_executor")),
		registry: registry,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// Do runs op against healthy endpoints of the given capability until it
// succeeds, the attempt budget is spent, or a non-retryable error surfaces.
// Endpoints rotate across attempts so a single bad host cannot burn the whole
// budget. Every failed attempt is followed by an exponential backoff sleep.
func (e *Executor) Do(ctx context.Context, capability domain.Capability, opts Options, op Op) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}
	attemptTimeout := opts.PerAttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = e.cfg.PerAttemptTimeout
	}

	if e.limiter != nil && opts.RateKey != "" {
		ok, err := e.limiter.Allow(ctx, opts.RateKey, e.cfg.RateLimit, e.cfg.RateWindow)
		if err != nil {
			// A broken limiter must not take trading down with it.
			e.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return domain.ErrRateLimited
		}
	}

	var last error
	for attempt := 0; attempt < maxRetries; attempt++ {
		eps, err := e.registry.Select(capability, opts.PreferredVersion)
		if err != nil {
			return err
		}
		ep := eps[attempt%len(eps)]

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		start := time.Now()
		err = op(attemptCtx, ep)
		latency := time.Since(start)
		cancel()

		e.registry.ReportOutcome(domain.RequestAttempt{
			EndpointID: ep.ID,
			StartedAt:  start,
			Outcome:    classify(err),
			Latency:    latency,
		})

		if err == nil {
			return nil
		}
		last = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.Retryable(err) {
			e.logger.Debug("non-retryable error, giving up",
				slog.String("endpoint", ep.ID),
				slog.String("error", err.Error()))
			return err
		}

		e.logger.Debug("attempt failed",
			slog.String("endpoint", ep.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return err
		}
	}

	return &domain.ExhaustedError{Attempts: maxRetries, Last: last}
}

// backoff is base*2^attempt capped at the configured ceiling.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return d
}

// sleep waits for d or until the context ends.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify maps an attempt error onto the registry's outcome taxonomy.
func classify(err error) domain.AttemptOutcome {
	switch {
	case err == nil:
		return domain.OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return domain.OutcomeTimeout
	default:
		var remote *domain.RemoteError
		if errors.As(err, &remote) {
			return domain.OutcomeRemoteError
		}
		return domain.OutcomeTransportError
	}
}
