package request

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbot/internal/domain"
	"solbot/internal/endpoint"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry(t *testing.T, eps ...domain.Endpoint) *endpoint.Registry {
	t.Helper()
	if len(eps) == 0 {
		eps = []domain.Endpoint{
			{ID: "a", Capability: domain.CapabilityQuote, BaseURL: "https://a", Version: "v6"},
			{ID: "b", Capability: domain.CapabilityQuote, BaseURL: "https://b", Version: "v6"},
		}
	}
	probe := func(context.Context, domain.Endpoint) error { return nil }
	return endpoint.New(testLogger(), eps, probe, 100, time.Minute)
}

func testConfig() Config {
	return Config{
		MaxRetries:        3,
		PerAttemptTimeout: time.Second,
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        100 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e := New(testLogger(), testRegistry(t), nil, testConfig())

	calls := 0
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRotatesEndpointsAcrossAttempts(t *testing.T) {
	e := New(testLogger(), testRegistry(t), nil, testConfig())

	var seen []string
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		seen = append(seen, ep.ID)
		if len(seen) < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0], seen[1], "second attempt must move to another host")
}

func TestDoReportsFailuresAndSuccessToRegistry(t *testing.T) {
	// Three hosts, exclusion threshold 1, and a probe that never recovers:
	// every reported failure knocks its host out of rotation for good.
	eps := []domain.Endpoint{
		{ID: "a", Capability: domain.CapabilityQuote, BaseURL: "https://a", Version: "v6"},
		{ID: "b", Capability: domain.CapabilityQuote, BaseURL: "https://b", Version: "v6"},
		{ID: "c", Capability: domain.CapabilityQuote, BaseURL: "https://c", Version: "v6"},
	}
	probe := func(context.Context, domain.Endpoint) error { return errors.New("down") }
	reg := endpoint.New(testLogger(), eps, probe, 1, time.Minute)
	e := New(testLogger(), reg, nil, testConfig())

	var seen []string
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		seen = append(seen, ep.ID)
		if len(seen) < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)

	// Two failures and one success reached the registry: both failed hosts
	// are excluded, the succeeding host keeps its clean record.
	require.Eventually(t, func() bool {
		return reg.Excluded(seen[0]) && reg.Excluded(seen[1])
	}, time.Second, time.Millisecond)
	assert.False(t, reg.Excluded(seen[2]), "a successful attempt must not count against its host")
}

func TestDoBacksOffAfterEveryFailedAttempt(t *testing.T) {
	cfg := testConfig()
	e := New(testLogger(), testRegistry(t), nil, cfg)

	start := time.Now()
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		return errors.New("boom")
	})
	elapsed := time.Since(start)

	var exhausted *domain.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	// base*1 + base*2 + base*4 with base=10ms
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestDoStopsOnNonRetryableRemoteError(t *testing.T) {
	e := New(testLogger(), testRegistry(t), nil, testConfig())

	fatal := &domain.RemoteError{Status: 400, Message: "bad mint", Retryable: false}
	calls := 0
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		calls++
		return fatal
	})
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancel(t *testing.T) {
	e := New(testLogger(), testRegistry(t), nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Do(ctx, domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoNoHealthyEndpoint(t *testing.T) {
	reg := endpoint.New(testLogger(),
		[]domain.Endpoint{{ID: "only", Capability: domain.CapabilityQuote, Version: "v6"}},
		func(context.Context, domain.Endpoint) error { return errors.New("down") },
		1, time.Minute)
	reg.ReportOutcome(domain.RequestAttempt{EndpointID: "only", Outcome: domain.OutcomeTimeout})
	require.Eventually(t, func() bool { return reg.Excluded("only") }, time.Second, time.Millisecond)

	e := New(testLogger(), reg, nil, testConfig())
	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrNoHealthyEndpoint)
}

type fakeLimiter struct {
	mu    sync.Mutex
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.allow, nil
}

func TestDoRateLimited(t *testing.T) {
	lim := &fakeLimiter{allow: false}
	e := New(testLogger(), testRegistry(t), lim, testConfig())

	err := e.Do(context.Background(), domain.CapabilityQuote, Options{RateKey: "jupiter"}, func(ctx context.Context, ep domain.Endpoint) error {
		t.Fatal("op must not run when the budget is spent")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, []string{"jupiter"}, lim.keys)
}

func TestDoPerAttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PerAttemptTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	e := New(testLogger(), testRegistry(t), nil, cfg)

	err := e.Do(context.Background(), domain.CapabilityQuote, Options{}, func(ctx context.Context, ep domain.Endpoint) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var exhausted *domain.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, exhausted.Last, context.DeadlineExceeded)
}
