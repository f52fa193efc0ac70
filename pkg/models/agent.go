package models

import "time"

// HealthStatus represents the last observed health of an agent.
type HealthStatus string

const (
	// HealthUnknown indicates the agent has not been probed yet.
	HealthUnknown HealthStatus = "unknown"
	// HealthHealthy indicates the last probe succeeded.
	HealthHealthy HealthStatus = "healthy"
	// HealthDegraded indicates recent probes failed but the agent may recover.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnreachable indicates consecutive probes failed; the agent is not routed to.
	HealthUnreachable HealthStatus = "unreachable"
)

// Valid returns true if the status is a known value.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthUnreachable:
		return true
	default:
		return false
	}
}

// CapabilityGrant declares one capability an agent can perform and how
// confident the agent is in performing it.
type CapabilityGrant struct {
	// Capability is the dotted capability identifier, e.g. "crm.contact.enrich".
	Capability string `json:"capability"`
	// Confidence is the agent-declared score in [0, 1].
	Confidence float64 `json:"confidence"`
}

// AgentDescriptor describes a registered worker agent.
type AgentDescriptor struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Endpoint is an opaque reference used by the invoker to reach the agent,
	// typically a base URL for remote agents.
	Endpoint string `json:"endpoint,omitempty"`
	// Capabilities lists the capabilities the agent declares.
	Capabilities []CapabilityGrant `json:"capabilities"`
	// Health is the last health status written by the monitor.
	Health HealthStatus `json:"health"`
	// LastProbe is when the agent was last probed.
	LastProbe time.Time `json:"last_probe,omitempty"`
	// AvgLatency is the exponentially weighted average probe latency.
	AvgLatency time.Duration `json:"avg_latency,omitempty"`
}

// Snapshot returns a deep copy of the descriptor.
func (d *AgentDescriptor) Snapshot() AgentDescriptor {
	cp := *d
	cp.Capabilities = append([]CapabilityGrant(nil), d.Capabilities...)
	return cp
}

// Declares returns the declared confidence for a capability and whether
// the agent declares it at all.
func (d *AgentDescriptor) Declares(capability string) (float64, bool) {
	for _, g := range d.Capabilities {
		if g.Capability == capability {
			return g.Confidence, true
		}
	}
	return 0, false
}

// HealthSample is the result of a single successful probe.
type HealthSample struct {
	// Latency is how long the probe round trip took.
	Latency time.Duration `json:"latency"`
	// CheckedAt is when the probe completed.
	CheckedAt time.Time `json:"checked_at"`
}
