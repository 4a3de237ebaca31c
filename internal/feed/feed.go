// Package feed maintains the freshest known price per tracked token, merging
// the polling path and the websocket push path into one ordered stream.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solbot/internal/domain"
)

// PushSource is a live price stream with per-mint subscriptions (the
// websocket client). Optional: a feed without one is poll-only.
type PushSource interface {
	Samples() <-chan domain.PriceSample
	Subscribe(mint string) error
	Unsubscribe(mint string) error
}

// Handler receives accepted samples for one token. Handlers run on the
// dispatch goroutine, so a token's updates arrive strictly in order; they
// must return quickly.
type Handler func(domain.PriceSample)

// Config holds feed timing parameters.
type Config struct {
	PollInterval time.Duration
	MaxPriceAge  time.Duration
	VsToken      string
}

// Feed is the price cache and fan-out point. Both ingest paths funnel into a
// single dispatch channel; one goroutine applies the monotonic-timestamp
// guard, updates the cache, mirrors to shared storage, and notifies
// subscribers.
type Feed struct {
	logger   *slog.Logger
	provider domain.PriceProvider
	push     PushSource        // optional
	mirror   domain.PriceCache // optional
	cfg      Config

	mu       sync.Mutex
	latest   map[string]domain.PriceSample
	handlers map[string][]Handler
	watched  map[string]bool

	updates chan domain.PriceSample
}

// New builds a Feed. push and mirror may be nil.
func New(logger *slog.Logger, provider domain.PriceProvider, push PushSource, mirror domain.PriceCache, cfg Config) *Feed {
	return &Feed{
		logger:   logger.With(slog.String("component", "price_feed")),
		provider: provider,
		push:     push,
		mirror:   mirror,
		cfg:      cfg,
		latest:   map[string]domain.PriceSample{},
		handlers: map[string][]Handler{},
		watched:  map[string]bool{},
		updates:  make(chan domain.PriceSample, 256),
	}
}

// Watch starts tracking a token: it joins the poll rotation and, when a push
// source exists, gets a live subscription.
func (f *Feed) Watch(token string) error {
	f.mu.Lock()
	already := f.watched[token]
	f.watched[token] = true
	f.mu.Unlock()

	if already || f.push == nil {
		return nil
	}
	return f.push.Subscribe(token)
}

// Unwatch stops tracking a token and drops its cached sample.
func (f *Feed) Unwatch(token string) error {
	f.mu.Lock()
	delete(f.watched, token)
	delete(f.latest, token)
	delete(f.handlers, token)
	f.mu.Unlock()

	if f.push == nil {
		return nil
	}
	return f.push.Unsubscribe(token)
}

// Subscribe registers a handler for one token's accepted updates.
func (f *Feed) Subscribe(token string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[token] = append(f.handlers[token], h)
}

// Latest returns the freshest accepted sample for a token. A missing token is
// domain.ErrNotFound; a sample older than MaxPriceAge is domain.ErrStalePrice
// (the stale sample is still returned for diagnostics).
func (f *Feed) Latest(token string) (domain.PriceSample, error) {
	f.mu.Lock()
	s, ok := f.latest[token]
	f.mu.Unlock()

	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	if !s.FreshAt(time.Now(), f.cfg.MaxPriceAge) {
		return s, domain.ErrStalePrice
	}
	return s, nil
}

// Run drives the poll, push-forward, and dispatch loops until ctx ends.
func (f *Feed) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.pollLoop(ctx)
	}()

	if f.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.forwardPush(ctx)
		}()
	}

	f.logger.Info("price feed started")
	defer f.logger.Info("price feed stopped")

	f.dispatchLoop(ctx)
	wg.Wait()
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Internal loops
// --------------------------------------------------------------------------

// pollLoop queries the provider for every watched token each interval.
func (f *Feed) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, token := range f.watchedTokens() {
				sample, err := f.provider.GetPrice(ctx, token, f.cfg.VsToken)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					f.logger.Warn("price poll failed",
						slog.String("token", token),
						slog.String("error", err.Error()))
					continue
				}
				select {
				case f.updates <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// forwardPush copies websocket samples into the shared update channel.
func (f *Feed) forwardPush(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-f.push.Samples():
			if !ok {
				return
			}
			select {
			case f.updates <- s:
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatchLoop is the only writer of the cache. Out-of-order samples (an
// ObservedAt at or before the accepted one) are dropped, so a slow poll
// response can never overwrite a newer push.
func (f *Feed) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-f.updates:
			f.accept(ctx, s)
		}
	}
}

func (f *Feed) accept(ctx context.Context, s domain.PriceSample) {
	if s.Token == "" || s.Price.LessThanOrEqual(decimal.Zero) {
		return
	}

	f.mu.Lock()
	if !f.watched[s.Token] {
		f.mu.Unlock()
		return
	}
	if prev, ok := f.latest[s.Token]; ok && !s.ObservedAt.After(prev.ObservedAt) {
		f.mu.Unlock()
		return
	}
	f.latest[s.Token] = s
	handlers := append([]Handler(nil), f.handlers[s.Token]...)
	f.mu.Unlock()

	if f.mirror != nil {
		if err := f.mirror.SetPrice(ctx, s); err != nil {
			f.logger.Debug("price mirror write failed",
				slog.String("token", s.Token),
				slog.String("error", err.Error()))
		}
	}

	for _, h := range handlers {
		h(s)
	}
}

func (f *Feed) watchedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.watched))
	for t := range f.watched {
		out = append(out, t)
	}
	return out
}

// Health implements domain.HealthReporter: unhealthy when every watched
// token's sample has gone stale.
func (f *Feed) Health() domain.ComponentHealth {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.watched) == 0 {
		return domain.ComponentHealth{Component: "price_feed", Healthy: true}
	}
	now := time.Now()
	for token := range f.watched {
		if s, ok := f.latest[token]; ok && s.FreshAt(now, f.cfg.MaxPriceAge) {
			return domain.ComponentHealth{Component: "price_feed", Healthy: true}
		}
	}
	return domain.ComponentHealth{
		Component: "price_feed",
		Healthy:   false,
		Detail:    "all watched tokens stale",
	}
}
