// Package endpoint tracks the health of every configured API endpoint and
// picks the best candidates for each outbound request.
package endpoint

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"solbot/internal/domain"
)

// Prober checks whether an endpoint is currently serviceable. Each platform
// client supplies its own probe (HTTP health-check route, RPC getHealth).
type Prober func(ctx context.Context, ep domain.Endpoint) error

// state is the registry's private per-endpoint record.
type state struct {
	ep           domain.Endpoint
	consecFails  int
	excluded     bool
	lastLatency  time.Duration
	lastOutcome  domain.AttemptOutcome
	lastReportAt time.Time
}

// Registry is the shared endpoint pool. Components ask it for candidates and
// report back every attempt's outcome; a background loop re-probes excluded
// endpoints so transient outages heal on their own.
type Registry struct {
	logger           *slog.Logger
	probe            Prober
	failureThreshold int
	checkInterval    time.Duration
	probeTimeout     time.Duration

	mu        sync.Mutex
	endpoints map[string]*state

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Registry over the given endpoints. The prober is called with a
// bounded context whenever an endpoint needs a health verdict.
func New(logger *slog.Logger, eps []domain.Endpoint, probe Prober, failureThreshold int, checkInterval time.Duration) *Registry {
	r := &Registry{
		logger:           logger.With(slog.String("component", "endpoint_registry")),
		probe:            probe,
		failureThreshold: failureThreshold,
		checkInterval:    checkInterval,
		probeTimeout:     10 * time.Second,
		endpoints:        make(map[string]*state, len(eps)),
		stop:             make(chan struct{}),
	}
	for _, ep := range eps {
		r.endpoints[ep.ID] = &state{ep: ep}
	}
	return r
}

// Start launches the periodic health loop. Safe to skip in tests.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.checkAll(ctx)
			}
		}
	}()
}

// Stop halts the health loop and waits for in-flight probes.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Select returns the healthy endpoints for a capability, best first:
// preferred version ahead of the rest, faster recent latency ahead of slower.
// An empty preferredVersion skips the version split. Returns
// domain.ErrNoHealthyEndpoint when everything is excluded.
func (r *Registry) Select(capability domain.Capability, preferredVersion string) ([]domain.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*state
	for _, st := range r.endpoints {
		if st.ep.Capability != capability || st.excluded {
			continue
		}
		candidates = append(candidates, st)
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoHealthyEndpoint
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if preferredVersion != "" && a.ep.Version != b.ep.Version {
			if a.ep.Version == preferredVersion {
				return true
			}
			if b.ep.Version == preferredVersion {
				return false
			}
		}
		// Unmeasured endpoints sort last within their version group; equal
		// latencies fall back to ID so ordering is stable across calls.
		if a.lastLatency != b.lastLatency {
			if a.lastLatency == 0 || b.lastLatency == 0 {
				return b.lastLatency == 0
			}
			return a.lastLatency < b.lastLatency
		}
		return a.ep.ID < b.ep.ID
	})

	out := make([]domain.Endpoint, len(candidates))
	for i, st := range candidates {
		out[i] = st.ep
	}
	return out, nil
}

// ReportOutcome feeds an attempt result back into the registry. A success
// clears the failure streak; a failure extends it, and crossing the
// configured threshold excludes the endpoint and schedules an immediate
// async re-probe.
func (r *Registry) ReportOutcome(attempt domain.RequestAttempt) {
	r.mu.Lock()
	st, ok := r.endpoints[attempt.EndpointID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.lastOutcome = attempt.Outcome
	st.lastReportAt = time.Now()

	if attempt.Outcome == domain.OutcomeSuccess {
		st.consecFails = 0
		st.excluded = false
		st.lastLatency = attempt.Latency
		r.mu.Unlock()
		return
	}

	st.consecFails++
	crossed := !st.excluded && st.consecFails >= r.failureThreshold
	if crossed {
		st.excluded = true
	}
	ep := st.ep
	fails := st.consecFails
	r.mu.Unlock()

	if crossed {
		r.logger.Warn("endpoint excluded",
			slog.String("endpoint", ep.ID),
			slog.Int("consecutive_failures", fails))
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.checkOne(context.Background(), ep)
		}()
	}
}

// checkAll probes every endpoint once. Excluded endpoints that pass are
// reinstated; healthy endpoints that fail only extend their streak through
// the normal ReportOutcome path at request time, the periodic probe never
// excludes on its own.
func (r *Registry) checkAll(ctx context.Context) {
	r.mu.Lock()
	eps := make([]domain.Endpoint, 0, len(r.endpoints))
	for _, st := range r.endpoints {
		if st.excluded {
			eps = append(eps, st.ep)
		}
	}
	r.mu.Unlock()

	for _, ep := range eps {
		r.checkOne(ctx, ep)
	}
}

// checkOne probes one endpoint and reinstates it on success.
func (r *Registry) checkOne(ctx context.Context, ep domain.Endpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	err := r.probe(probeCtx, ep)

	r.mu.Lock()
	st, ok := r.endpoints[ep.ID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if err == nil {
		wasExcluded := st.excluded
		st.excluded = false
		st.consecFails = 0
		r.mu.Unlock()
		if wasExcluded {
			r.logger.Info("endpoint reinstated", slog.String("endpoint", ep.ID))
		}
		return
	}
	r.mu.Unlock()
	r.logger.Debug("health probe failed",
		slog.String("endpoint", ep.ID),
		slog.String("error", err.Error()))
}

// Excluded reports whether an endpoint is currently out of rotation.
func (r *Registry) Excluded(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.endpoints[id]
	return ok && st.excluded
}

// Health implements domain.HealthReporter: healthy while at least one
// endpoint per capability remains in rotation.
func (r *Registry) Health() domain.ComponentHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := map[domain.Capability]int{}
	alive := map[domain.Capability]int{}
	for _, st := range r.endpoints {
		total[st.ep.Capability]++
		if !st.excluded {
			alive[st.ep.Capability]++
		}
	}
	for cap, n := range total {
		if n > 0 && alive[cap] == 0 {
			return domain.ComponentHealth{
				Component: "endpoint_registry",
				Healthy:   false,
				Detail:    "no healthy endpoint for capability " + string(cap),
			}
		}
	}
	return domain.ComponentHealth{Component: "endpoint_registry", Healthy: true}
}
