package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbot/internal/domain"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	mu      sync.Mutex
	samples map[string]domain.PriceSample
}

func (p *fakeProvider) GetPrice(_ context.Context, token, _ string) (domain.PriceSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.samples[token]; ok {
		return s, nil
	}
	return domain.PriceSample{}, domain.ErrNotFound
}

type fakePush struct {
	mu      sync.Mutex
	ch      chan domain.PriceSample
	subs    []string
	unsubs  []string
}

func newFakePush() *fakePush {
	return &fakePush{ch: make(chan domain.PriceSample, 16)}
}

func (p *fakePush) Samples() <-chan domain.PriceSample { return p.ch }

func (p *fakePush) Subscribe(mint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, mint)
	return nil
}

func (p *fakePush) Unsubscribe(mint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubs = append(p.unsubs, mint)
	return nil
}

type fakeMirror struct {
	mu      sync.Mutex
	written []domain.PriceSample
}

func (m *fakeMirror) SetPrice(_ context.Context, s domain.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, s)
	return nil
}

func (m *fakeMirror) GetPrice(context.Context, string) (domain.PriceSample, error) {
	return domain.PriceSample{}, domain.ErrNotFound
}

func sample(token string, price string, at time.Time) domain.PriceSample {
	return domain.PriceSample{
		Token:      token,
		Price:      decimal.RequireFromString(price),
		Liquidity:  decimal.NewFromInt(100),
		ObservedAt: at,
		Source:     "test",
	}
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		MaxPriceAge:  time.Minute,
		VsToken:      "sol",
	}
}

func runFeed(t *testing.T, f *Feed) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestPollPathPopulatesCache(t *testing.T) {
	now := time.Now()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{
		"mintA": sample("mintA", "0.5", now),
	}}
	f := New(testLogger(), provider, nil, nil, testConfig())
	require.NoError(t, f.Watch("mintA"))
	runFeed(t, f)

	require.Eventually(t, func() bool {
		_, err := f.Latest("mintA")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	s, err := f.Latest("mintA")
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.RequireFromString("0.5")))
}

func TestPushPathAndSubscriptionWiring(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	f := New(testLogger(), provider, push, nil, testConfig())
	require.NoError(t, f.Watch("mintA"))
	assert.Equal(t, []string{"mintA"}, push.subs)
	runFeed(t, f)

	push.ch <- sample("mintA", "1.5", time.Now())

	require.Eventually(t, func() bool {
		s, err := f.Latest("mintA")
		return err == nil && s.Price.Equal(decimal.RequireFromString("1.5"))
	}, time.Second, 5*time.Millisecond)
}

func TestOutOfOrderSampleDropped(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	f := New(testLogger(), provider, push, nil, testConfig())
	require.NoError(t, f.Watch("mintA"))
	runFeed(t, f)

	now := time.Now()
	push.ch <- sample("mintA", "2.0", now)
	require.Eventually(t, func() bool {
		s, err := f.Latest("mintA")
		return err == nil && s.Price.Equal(decimal.NewFromInt(2))
	}, time.Second, 5*time.Millisecond)

	// Older observation must not win.
	push.ch <- sample("mintA", "1.0", now.Add(-time.Second))

	// Newer observation must.
	push.ch <- sample("mintA", "3.0", now.Add(time.Second))
	require.Eventually(t, func() bool {
		s, _ := f.Latest("mintA")
		return s.Price.Equal(decimal.NewFromInt(3))
	}, time.Second, 5*time.Millisecond)

	s, err := f.Latest("mintA")
	require.NoError(t, err)
	assert.False(t, s.Price.Equal(decimal.NewFromInt(1)))
}

func TestSubscribersSeeOrderedUpdates(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	f := New(testLogger(), provider, push, nil, testConfig())
	require.NoError(t, f.Watch("mintA"))

	var mu sync.Mutex
	var seen []string
	f.Subscribe("mintA", func(s domain.PriceSample) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Price.String())
	})
	runFeed(t, f)

	base := time.Now()
	for i, p := range []string{"1", "2", "3"} {
		push.ch <- sample("mintA", p, base.Add(time.Duration(i)*time.Millisecond))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3"}, seen)
}

func TestStaleSampleReported(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	cfg := testConfig()
	cfg.MaxPriceAge = 50 * time.Millisecond
	f := New(testLogger(), provider, push, nil, cfg)
	require.NoError(t, f.Watch("mintA"))
	runFeed(t, f)

	push.ch <- sample("mintA", "1", time.Now())
	require.Eventually(t, func() bool {
		_, err := f.Latest("mintA")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := f.Latest("mintA")
		return err == domain.ErrStalePrice
	}, time.Second, 10*time.Millisecond)
}

func TestMirrorReceivesAcceptedSamples(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	mirror := &fakeMirror{}
	f := New(testLogger(), provider, push, mirror, testConfig())
	require.NoError(t, f.Watch("mintA"))
	runFeed(t, f)

	now := time.Now()
	push.ch <- sample("mintA", "1", now)
	push.ch <- sample("mintA", "0.5", now.Add(-time.Second)) // dropped

	require.Eventually(t, func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return len(mirror.written) == 1
	}, time.Second, 5*time.Millisecond)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.True(t, mirror.written[0].Price.Equal(decimal.NewFromInt(1)))
}

func TestUnwatchDropsToken(t *testing.T) {
	push := newFakePush()
	provider := &fakeProvider{samples: map[string]domain.PriceSample{}}
	f := New(testLogger(), provider, push, nil, testConfig())
	require.NoError(t, f.Watch("mintA"))
	require.NoError(t, f.Unwatch("mintA"))
	assert.Equal(t, []string{"mintA"}, push.unsubs)

	_, err := f.Latest("mintA")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
