package health

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatchd/internal/clock"
	"dispatchd/internal/registry"
	"dispatchd/pkg/models"
)

// stubInvoker returns scripted probe outcomes per agent ID.
type stubInvoker struct {
	mu      sync.Mutex
	fail    map[string]bool
	latency time.Duration
	probes  map[string]int
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{
		fail:    make(map[string]bool),
		latency: 50 * time.Millisecond,
		probes:  make(map[string]int),
	}
}

func (s *stubInvoker) setFailing(agentID string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[agentID] = failing
}

func (s *stubInvoker) probeCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[agentID]
}

func (s *stubInvoker) Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (s *stubInvoker) Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[agent.ID]++
	if s.fail[agent.ID] {
		return models.HealthSample{}, errors.New("connection refused")
	}
	return models.HealthSample{Latency: s.latency, CheckedAt: time.Now()}, nil
}

func testMonitor(t *testing.T) (*Monitor, *registry.Registry, *stubInvoker, *clock.Fake) {
	t.Helper()
	reg := registry.New()
	inv := newStubInvoker()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mon := New(reg, inv, Config{
		Interval:         30 * time.Second,
		FailureThreshold: 3,
		BackoffCap:       5 * time.Minute,
	}, clk)
	return mon, reg, inv, clk
}

func register(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	reg.Register(models.AgentDescriptor{
		ID:       id,
		Endpoint: "http://" + id + ".local",
		Capabilities: []models.CapabilityGrant{
			{Capability: "crm.lead.score", Confidence: 0.9},
		},
	})
}

func health(t *testing.T, reg *registry.Registry, id string) models.HealthStatus {
	t.Helper()
	agent, ok := reg.Get(id)
	if !ok {
		t.Fatalf("agent %s not found", id)
	}
	return agent.Health
}

func TestCycleMarksHealthy(t *testing.T) {
	mon, reg, _, _ := testMonitor(t)
	register(t, reg, "a1")

	mon.Cycle(context.Background())

	if got := health(t, reg, "a1"); got != models.HealthHealthy {
		t.Errorf("expected healthy, got %s", got)
	}
	agent, _ := reg.Get("a1")
	if agent.AvgLatency <= 0 {
		t.Error("expected latency recorded")
	}
}

func TestFirstFailureDegrades(t *testing.T) {
	mon, reg, inv, _ := testMonitor(t)
	register(t, reg, "a1")
	inv.setFailing("a1", true)

	mon.Cycle(context.Background())

	if got := health(t, reg, "a1"); got != models.HealthDegraded {
		t.Errorf("expected degraded after one failure, got %s", got)
	}
}

func TestThresholdFailuresUnreachable(t *testing.T) {
	mon, reg, inv, clk := testMonitor(t)
	register(t, reg, "a1")
	inv.setFailing("a1", true)

	for i := 0; i < 3; i++ {
		mon.Cycle(context.Background())
		clk.Advance(5 * time.Minute)
	}

	if got := health(t, reg, "a1"); got != models.HealthUnreachable {
		t.Errorf("expected unreachable after three failures, got %s", got)
	}
}

func TestRecoveryResetsToHealthy(t *testing.T) {
	mon, reg, inv, clk := testMonitor(t)
	register(t, reg, "a1")
	inv.setFailing("a1", true)

	for i := 0; i < 3; i++ {
		mon.Cycle(context.Background())
		clk.Advance(5 * time.Minute)
	}
	inv.setFailing("a1", false)
	mon.Cycle(context.Background())

	if got := health(t, reg, "a1"); got != models.HealthHealthy {
		t.Errorf("expected healthy after recovery, got %s", got)
	}

	// A fresh failure starts over at degraded.
	inv.setFailing("a1", true)
	clk.Advance(time.Minute)
	mon.Cycle(context.Background())
	if got := health(t, reg, "a1"); got != models.HealthDegraded {
		t.Errorf("expected degraded after reset, got %s", got)
	}
}

func TestFailureBackoffSkipsProbes(t *testing.T) {
	mon, reg, inv, clk := testMonitor(t)
	register(t, reg, "a1")
	inv.setFailing("a1", true)

	mon.Cycle(context.Background())
	if got := inv.probeCount("a1"); got != 1 {
		t.Fatalf("expected 1 probe, got %d", got)
	}

	// One failure backs off to a full interval; a cycle 10s later skips.
	clk.Advance(10 * time.Second)
	mon.Cycle(context.Background())
	if got := inv.probeCount("a1"); got != 1 {
		t.Errorf("expected probe skipped during backoff, got %d", got)
	}

	clk.Advance(30 * time.Second)
	mon.Cycle(context.Background())
	if got := inv.probeCount("a1"); got != 2 {
		t.Errorf("expected probe after backoff elapsed, got %d", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	mon, _, _, _ := testMonitor(t)

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := mon.backoff(tc.failures); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}

func TestDeregisteredAgentPruned(t *testing.T) {
	mon, reg, inv, clk := testMonitor(t)
	register(t, reg, "a1")
	inv.setFailing("a1", true)

	mon.Cycle(context.Background())
	reg.Deregister("a1")
	mon.Cycle(context.Background())

	// Re-registration starts from a clean slate: probed immediately and
	// failure counting restarts.
	register(t, reg, "a1")
	clk.Advance(time.Second)
	mon.Cycle(context.Background())

	if got := inv.probeCount("a1"); got != 2 {
		t.Errorf("expected re-registered agent probed, got %d probes", got)
	}
	if got := health(t, reg, "a1"); got != models.HealthDegraded {
		t.Errorf("expected degraded on first failure after re-register, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mon, reg, _, _ := testMonitor(t)
	register(t, reg, "a1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
