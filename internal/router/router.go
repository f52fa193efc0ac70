// Package router selects the best live agent for a requested capability.
package router

import (
	"errors"
	"fmt"

	"dispatchd/internal/registry"
	"dispatchd/pkg/models"
)

// ErrNoAgent indicates no live agent declares the requested capability.
var ErrNoAgent = errors.New("no live agent for capability")

// Default scoring weights. Confidence dominates; latency breaks near-ties.
const (
	DefaultConfidenceWeight = 0.7
	DefaultLatencyWeight    = 0.3
)

// Router scores registry candidates for a capability and picks the best.
// Routing is a pure function of current registry state: no side effects
// and no caching across calls, so every route reflects the latest health
// snapshot.
type Router struct {
	reg              *registry.Registry
	confidenceWeight float64
	latencyWeight    float64
}

// New creates a Router over the given registry with default weights.
func New(reg *registry.Registry) *Router {
	return NewWithWeights(reg, DefaultConfidenceWeight, DefaultLatencyWeight)
}

// NewWithWeights creates a Router with explicit scoring weights.
// Non-positive or non-finite weight pairs fall back to the defaults.
func NewWithWeights(reg *registry.Registry, confidenceWeight, latencyWeight float64) *Router {
	if confidenceWeight <= 0 || latencyWeight < 0 {
		confidenceWeight = DefaultConfidenceWeight
		latencyWeight = DefaultLatencyWeight
	}
	return &Router{
		reg:              reg,
		confidenceWeight: confidenceWeight,
		latencyWeight:    latencyWeight,
	}
}

// Route returns the best live agent declaring the capability.
//
// Candidates are filtered in two passes: first only healthy and
// unknown-health agents are considered; if none remain the filter is
// relaxed to admit degraded agents. Unreachable agents are never routed
// to. Survivors are scored as
//
//	score = confidenceWeight*confidence + latencyWeight*(1 - normalizedLatency)
//
// where normalizedLatency is the agent's average latency divided by the
// maximum average among survivors (zero when only one candidate has a
// sample). Ties break toward the lexicographically smallest agent ID so
// routing is reproducible.
func (r *Router) Route(capability string) (models.AgentDescriptor, error) {
	candidates := r.reg.FindByCapability(capability)
	if len(candidates) == 0 {
		return models.AgentDescriptor{}, fmt.Errorf("route %q: %w", capability, ErrNoAgent)
	}

	live := filter(candidates, func(c registry.Candidate) bool {
		return c.Agent.Health == models.HealthHealthy || c.Agent.Health == models.HealthUnknown
	})
	if len(live) == 0 {
		live = filter(candidates, func(c registry.Candidate) bool {
			return c.Agent.Health == models.HealthDegraded
		})
	}
	if len(live) == 0 {
		return models.AgentDescriptor{}, fmt.Errorf("route %q: %w", capability, ErrNoAgent)
	}

	var maxLatency float64
	for _, c := range live {
		if l := float64(c.Agent.AvgLatency); l > maxLatency {
			maxLatency = l
		}
	}

	best := live[0]
	bestScore := r.score(live[0], maxLatency)
	for _, c := range live[1:] {
		s := r.score(c, maxLatency)
		if s > bestScore || (s == bestScore && c.Agent.ID < best.Agent.ID) {
			best = c
			bestScore = s
		}
	}

	return best.Agent, nil
}

// score computes the weighted confidence/latency score for one candidate.
func (r *Router) score(c registry.Candidate, maxLatency float64) float64 {
	var normalized float64
	if maxLatency > 0 {
		normalized = float64(c.Agent.AvgLatency) / maxLatency
	}
	return r.confidenceWeight*c.Confidence + r.latencyWeight*(1-normalized)
}

func filter(in []registry.Candidate, keep func(registry.Candidate) bool) []registry.Candidate {
	var out []registry.Candidate
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
