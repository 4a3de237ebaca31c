package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest accepted price samples into shared storage
// so other processes (dashboards, analytics) can read them.
type PriceCache interface {
	SetPrice(ctx context.Context, sample PriceSample) error
	GetPrice(ctx context.Context, token string) (PriceSample, error)
}

// RateLimiter enforces a request budget per key within a rolling window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus delivers raw inbound signal payloads published by external
// producers (the message parser lives outside this process).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager guards mutually exclusive work across processes. Hold keeps
// the lock refreshed until the returned release function is called; a lock
// held elsewhere is ErrLockHeld.
type LockManager interface {
	Hold(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
