// Package registry stores known agents, the capabilities each declares,
// and their last observed health. It is the lookup substrate for the
// capability router and the health monitor.
package registry

import (
	"sync"
	"time"

	"dispatchd/pkg/models"
)

// DefaultLatencyWeight is the exponential moving average weight applied
// to new latency samples in UpdateHealth.
const DefaultLatencyWeight = 0.3

// Candidate is an agent returned from a capability lookup, annotated with
// the confidence it declared for the requested capability.
type Candidate struct {
	Agent      models.AgentDescriptor
	Confidence float64
}

// Stats summarizes the registry contents.
type Stats struct {
	// TotalAgents is the number of registered agents.
	TotalAgents int `json:"total_agents"`
	// AgentsByHealth counts agents per health status.
	AgentsByHealth map[models.HealthStatus]int `json:"agents_by_health"`
	// TotalCapabilities is the number of distinct capabilities indexed.
	TotalCapabilities int `json:"total_capabilities"`
}

// Registry is a thread-safe store of agent descriptors with a
// capability-to-agents index. All mutation is serialized internally.
type Registry struct {
	// agents maps agent ID to its descriptor.
	agents map[string]*models.AgentDescriptor
	// byCapability maps capability ID to the set of agent IDs declaring it.
	byCapability map[string]map[string]struct{}
	// latencyWeight is the EMA weight for new latency samples.
	latencyWeight float64
	// mu protects all fields.
	mu sync.RWMutex
}

// New creates an empty Registry with the default latency EMA weight.
func New() *Registry {
	return NewWithLatencyWeight(DefaultLatencyWeight)
}

// NewWithLatencyWeight creates an empty Registry with a custom EMA weight.
// Weights outside (0, 1] fall back to the default.
func NewWithLatencyWeight(w float64) *Registry {
	if w <= 0 || w > 1 {
		w = DefaultLatencyWeight
	}
	return &Registry{
		agents:        make(map[string]*models.AgentDescriptor),
		byCapability:  make(map[string]map[string]struct{}),
		latencyWeight: w,
	}
}

// Register upserts an agent by ID. Re-registering replaces the capability
// set and resets health to unknown pending the next probe. The capability
// index is rebuilt for the agent in one step so no reader observes a
// partial index.
func (r *Registry) Register(d models.AgentDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.agents[d.ID]; ok {
		r.removeFromIndexLocked(old)
	}

	stored := d.Snapshot()
	stored.Health = models.HealthUnknown
	stored.LastProbe = time.Time{}
	stored.AvgLatency = 0
	r.agents[d.ID] = &stored

	for _, g := range stored.Capabilities {
		set, ok := r.byCapability[g.Capability]
		if !ok {
			set = make(map[string]struct{})
			r.byCapability[g.Capability] = set
		}
		set[d.ID] = struct{}{}
	}
}

// Deregister removes an agent and all its index entries.
// It is a no-op if the agent is not registered.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.agents[agentID]
	if !ok {
		return
	}
	r.removeFromIndexLocked(d)
	delete(r.agents, agentID)
}

// removeFromIndexLocked drops all index entries for the agent.
// Caller must hold r.mu.
func (r *Registry) removeFromIndexLocked(d *models.AgentDescriptor) {
	for _, g := range d.Capabilities {
		set, ok := r.byCapability[g.Capability]
		if !ok {
			continue
		}
		delete(set, d.ID)
		if len(set) == 0 {
			delete(r.byCapability, g.Capability)
		}
	}
}

// FindByCapability returns all agents declaring the capability, each
// annotated with its current health and declared confidence. The result
// is a snapshot; mutating it does not affect the registry.
func (r *Registry) FindByCapability(capability string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byCapability[capability]
	if !ok {
		return nil
	}

	candidates := make([]Candidate, 0, len(set))
	for id := range set {
		d := r.agents[id]
		conf, _ := d.Declares(capability)
		candidates = append(candidates, Candidate{Agent: d.Snapshot(), Confidence: conf})
	}
	return candidates
}

// Get returns a snapshot of the agent descriptor, if registered.
func (r *Registry) Get(agentID string) (models.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.agents[agentID]
	if !ok {
		return models.AgentDescriptor{}, false
	}
	return d.Snapshot(), true
}

// All returns snapshots of every registered agent.
func (r *Registry) All() []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentDescriptor, 0, len(r.agents))
	for _, d := range r.agents {
		out = append(out, d.Snapshot())
	}
	return out
}

// UpdateHealth records a probe outcome for an agent: the new status, the
// probe time, and an exponentially weighted latency average. A latency of
// zero leaves the average untouched (failed probes carry no sample).
// It is a no-op if the agent is unknown.
func (r *Registry) UpdateHealth(agentID string, status models.HealthStatus, latency time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.agents[agentID]
	if !ok {
		return
	}

	d.Health = status
	d.LastProbe = at
	if latency > 0 {
		if d.AvgLatency == 0 {
			d.AvgLatency = latency
		} else {
			avg := r.latencyWeight*float64(latency) + (1-r.latencyWeight)*float64(d.AvgLatency)
			d.AvgLatency = time.Duration(avg)
		}
	}
}

// Stats returns counts of agents by health status and the number of
// capabilities indexed.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalAgents:       len(r.agents),
		AgentsByHealth:    make(map[models.HealthStatus]int),
		TotalCapabilities: len(r.byCapability),
	}
	for _, d := range r.agents {
		s.AgentsByHealth[d.Health]++
	}
	return s
}
