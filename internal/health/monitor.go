// Package health periodically probes registered agents and writes the
// outcome back to the registry. It runs independently of task dispatch:
// the scheduler only ever reads the last written health snapshot.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dispatchd/internal/clock"
	"dispatchd/internal/invoke"
	"dispatchd/internal/registry"
	"dispatchd/pkg/models"
)

// Config holds monitor tuning.
type Config struct {
	// Interval is the base probe cycle period.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// FailureThreshold is the consecutive-failure count at which an agent
	// is marked unreachable instead of degraded.
	FailureThreshold int
	// BackoffCap limits the per-agent probe backoff.
	BackoffCap time.Duration
	// MaxConcurrentProbes bounds in-flight probes per cycle.
	MaxConcurrentProbes int
}

// DefaultConfig returns the standard monitor tuning.
func DefaultConfig() Config {
	return Config{
		Interval:            30 * time.Second,
		ProbeTimeout:        10 * time.Second,
		FailureThreshold:    3,
		BackoffCap:          5 * time.Minute,
		MaxConcurrentProbes: 8,
	}
}

// Monitor drives probe cycles over all registered agents. Failing agents
// are probed less often: the per-agent interval doubles with each
// consecutive failure up to BackoffCap, and resets on recovery.
type Monitor struct {
	reg *registry.Registry
	inv invoke.Invoker
	cfg Config
	clk clock.Clock

	// mu protects failures and nextProbe.
	mu sync.Mutex
	// failures counts consecutive probe failures per agent.
	failures map[string]int
	// nextProbe is the earliest time each agent is probed again.
	nextProbe map[string]time.Time
}

// New creates a Monitor. Zero config fields take defaults.
func New(reg *registry.Registry, inv invoke.Invoker, cfg Config, clk clock.Clock) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = def.MaxConcurrentProbes
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Monitor{
		reg:       reg,
		inv:       inv,
		cfg:       cfg,
		clk:       clk,
		failures:  make(map[string]int),
		nextProbe: make(map[string]time.Time),
	}
}

// Run probes all agents immediately, then once per interval until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.After(m.cfg.Interval):
			m.Cycle(ctx)
		}
	}
}

// Cycle probes every agent that is due, with bounded concurrency.
func (m *Monitor) Cycle(ctx context.Context) {
	now := m.clk.Now()
	agents := m.reg.All()

	m.prune(agents)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentProbes)
	for _, agent := range agents {
		if !m.due(agent.ID, now) {
			continue
		}
		g.Go(func() error {
			m.probe(ctx, agent)
			return nil
		})
	}
	g.Wait()
}

// due reports whether the agent's backoff window has elapsed.
func (m *Monitor) due(agentID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.nextProbe[agentID]
	return !ok || !next.After(now)
}

// prune drops tracking state for agents no longer registered.
func (m *Monitor) prune(agents []models.AgentDescriptor) {
	known := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		known[a.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.failures {
		if _, ok := known[id]; !ok {
			delete(m.failures, id)
			delete(m.nextProbe, id)
		}
	}
	for id := range m.nextProbe {
		if _, ok := known[id]; !ok {
			delete(m.nextProbe, id)
		}
	}
}

// probe checks one agent and records the outcome.
func (m *Monitor) probe(ctx context.Context, agent models.AgentDescriptor) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	sample, err := m.inv.Probe(pctx, agent)
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.failures[agent.ID]++
		count := m.failures[agent.ID]

		status := models.HealthDegraded
		if count >= m.cfg.FailureThreshold {
			status = models.HealthUnreachable
		}
		m.reg.UpdateHealth(agent.ID, status, 0, now)
		m.nextProbe[agent.ID] = now.Add(m.backoff(count))

		log.Printf("[health] probe failed for agent %s (consecutive=%d, status=%s): %v", agent.ID, count, status, err)
		return
	}

	if m.failures[agent.ID] > 0 {
		log.Printf("[health] agent %s recovered after %d failed probes", agent.ID, m.failures[agent.ID])
	}
	m.failures[agent.ID] = 0
	m.reg.UpdateHealth(agent.ID, models.HealthHealthy, sample.Latency, now)
	m.nextProbe[agent.ID] = now.Add(m.cfg.Interval)
}

// backoff returns the probe delay after count consecutive failures:
// interval doubled per failure beyond the first, capped.
func (m *Monitor) backoff(count int) time.Duration {
	d := m.cfg.Interval
	for i := 1; i < count; i++ {
		d *= 2
		if d >= m.cfg.BackoffCap {
			return m.cfg.BackoffCap
		}
	}
	if d > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return d
}
