package router

import (
	"errors"
	"testing"
	"time"

	"dispatchd/internal/registry"
	"dispatchd/pkg/models"
)

func register(r *registry.Registry, id string, confidence float64, health models.HealthStatus, latency time.Duration) {
	r.Register(models.AgentDescriptor{
		ID:           id,
		Capabilities: []models.CapabilityGrant{{Capability: "crm.contact.enrich", Confidence: confidence}},
	})
	if health != models.HealthUnknown {
		r.UpdateHealth(id, health, latency, time.Now())
	}
}

func TestRouteNoCandidates(t *testing.T) {
	reg := registry.New()
	rt := New(reg)

	_, err := rt.Route("crm.contact.enrich")
	if !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestRoutePrefersHigherConfidence(t *testing.T) {
	reg := registry.New()
	register(reg, "a-low", 0.5, models.HealthHealthy, 10*time.Millisecond)
	register(reg, "a-high", 0.9, models.HealthHealthy, 10*time.Millisecond)
	rt := New(reg)

	got, err := rt.Route("crm.contact.enrich")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a-high" {
		t.Errorf("expected a-high, got %s", got.ID)
	}
}

func TestRouteLatencyBreaksNearTies(t *testing.T) {
	reg := registry.New()
	// Equal confidence; the slower agent loses the latency term.
	register(reg, "a-fast", 0.8, models.HealthHealthy, 10*time.Millisecond)
	register(reg, "a-slow", 0.8, models.HealthHealthy, 500*time.Millisecond)
	rt := New(reg)

	got, err := rt.Route("crm.contact.enrich")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a-fast" {
		t.Errorf("expected a-fast, got %s", got.ID)
	}
}

func TestRouteSkipsUnreachable(t *testing.T) {
	reg := registry.New()
	register(reg, "a-dead", 1.0, models.HealthUnreachable, 0)
	register(reg, "a-live", 0.5, models.HealthHealthy, 10*time.Millisecond)
	rt := New(reg)

	got, err := rt.Route("crm.contact.enrich")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a-live" {
		t.Errorf("expected a-live, got %s", got.ID)
	}
}

func TestRouteFallsBackToDegraded(t *testing.T) {
	reg := registry.New()
	register(reg, "a-dead", 1.0, models.HealthUnreachable, 0)
	register(reg, "a-shaky", 0.6, models.HealthDegraded, 50*time.Millisecond)
	rt := New(reg)

	got, err := rt.Route("crm.contact.enrich")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a-shaky" {
		t.Errorf("expected degraded fallback to a-shaky, got %s", got.ID)
	}
}

func TestRouteAllUnreachable(t *testing.T) {
	reg := registry.New()
	register(reg, "a1", 1.0, models.HealthUnreachable, 0)
	register(reg, "a2", 1.0, models.HealthUnreachable, 0)
	rt := New(reg)

	_, err := rt.Route("crm.contact.enrich")
	if !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestRouteDeterministicTieBreak(t *testing.T) {
	reg := registry.New()
	// Identical confidence, no latency samples: scores tie exactly.
	register(reg, "b-agent", 0.8, models.HealthUnknown, 0)
	register(reg, "a-agent", 0.8, models.HealthUnknown, 0)
	rt := New(reg)

	for i := 0; i < 10; i++ {
		got, err := rt.Route("crm.contact.enrich")
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if got.ID != "a-agent" {
			t.Fatalf("expected lexicographic winner a-agent, got %s", got.ID)
		}
	}
}

func TestRouteReflectsLatestHealth(t *testing.T) {
	reg := registry.New()
	register(reg, "a1", 0.9, models.HealthHealthy, 10*time.Millisecond)
	rt := New(reg)

	if _, err := rt.Route("crm.contact.enrich"); err != nil {
		t.Fatalf("route while healthy: %v", err)
	}

	reg.UpdateHealth("a1", models.HealthUnreachable, 0, time.Now())

	_, err := rt.Route("crm.contact.enrich")
	if !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent after health change, got %v", err)
	}
}
