package endpoint

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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func quoteEndpoints() []domain.Endpoint {
	return []domain.Endpoint{
		{ID: "v6-a", Capability: domain.CapabilityQuote, BaseURL: "https://a/v6", Version: "v6"},
		{ID: "v6-b", Capability: domain.CapabilityQuote, BaseURL: "https://b/v6", Version: "v6"},
		{ID: "v4-a", Capability: domain.CapabilityQuote, BaseURL: "https://a/v4", Version: "v4"},
	}
}

func okProbe(context.Context, domain.Endpoint) error { return nil }

func TestSelectPrefersVersionThenLatency(t *testing.T) {
	r := New(testLogger(), quoteEndpoints(), okProbe, 3, time.Minute)

	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeSuccess, Latency: 90 * time.Millisecond})
	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-b", Outcome: domain.OutcomeSuccess, Latency: 20 * time.Millisecond})
	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v4-a", Outcome: domain.OutcomeSuccess, Latency: 5 * time.Millisecond})

	eps, err := r.Select(domain.CapabilityQuote, "v6")
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, "v6-b", eps[0].ID) // fastest v6 first
	assert.Equal(t, "v6-a", eps[1].ID)
	assert.Equal(t, "v4-a", eps[2].ID) // fallback version last despite lowest latency
}

func TestExclusionAfterThreshold(t *testing.T) {
	probeErr := errors.New("still down")
	r := New(testLogger(), quoteEndpoints(), func(context.Context, domain.Endpoint) error { return probeErr }, 2, time.Minute)

	fail := domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeTimeout}
	r.ReportOutcome(fail)
	assert.False(t, r.Excluded("v6-a"), "one failure stays in rotation")

	r.ReportOutcome(fail)
	// The async re-probe fails, so the endpoint stays excluded.
	require.Eventually(t, func() bool { return r.Excluded("v6-a") }, time.Second, 5*time.Millisecond)

	eps, err := r.Select(domain.CapabilityQuote, "v6")
	require.NoError(t, err)
	for _, ep := range eps {
		assert.NotEqual(t, "v6-a", ep.ID)
	}
}

func TestRecheckReinstates(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	probe := func(context.Context, domain.Endpoint) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("down")
	}
	r := New(testLogger(), quoteEndpoints(), probe, 1, 10*time.Millisecond)

	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeTransportError})
	require.Eventually(t, func() bool { return r.Excluded("v6-a") }, time.Second, time.Millisecond)

	mu.Lock()
	healthy = true
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	require.Eventually(t, func() bool { return !r.Excluded("v6-a") }, time.Second, 5*time.Millisecond)
}

func TestSuccessClearsStreak(t *testing.T) {
	r := New(testLogger(), quoteEndpoints(), okProbe, 3, time.Minute)

	fail := domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeRemoteError}
	r.ReportOutcome(fail)
	r.ReportOutcome(fail)
	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeSuccess, Latency: time.Millisecond})
	r.ReportOutcome(fail)
	r.ReportOutcome(fail)

	assert.False(t, r.Excluded("v6-a"), "streak must reset on success")
}

func TestSelectNoHealthyEndpoint(t *testing.T) {
	r := New(testLogger(), quoteEndpoints()[:1], func(context.Context, domain.Endpoint) error { return errors.New("down") }, 1, time.Minute)
	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeTimeout})
	require.Eventually(t, func() bool { return r.Excluded("v6-a") }, time.Second, time.Millisecond)

	_, err := r.Select(domain.CapabilityQuote, "v6")
	assert.ErrorIs(t, err, domain.ErrNoHealthyEndpoint)
}

func TestHealthReportsCapabilityOutage(t *testing.T) {
	r := New(testLogger(), quoteEndpoints()[:1], func(context.Context, domain.Endpoint) error { return errors.New("down") }, 1, time.Minute)
	assert.True(t, r.Health().Healthy)

	r.ReportOutcome(domain.RequestAttempt{EndpointID: "v6-a", Outcome: domain.OutcomeTimeout})
	require.Eventually(t, func() bool { return !r.Health().Healthy }, time.Second, time.Millisecond)
}
