package invoke

import (
	"context"
	"encoding/json"

	"dispatchd/pkg/models"
)

// Mux dispatches invocations by agent identity: agents bound to an
// in-process invoker are served directly, everything else goes to the
// fallback transport. Bindings are set during startup, before the
// scheduler runs, so lookups are not locked.
type Mux struct {
	bound    map[string]Invoker
	fallback Invoker
}

// NewMux creates a Mux that routes unbound agents to fallback.
func NewMux(fallback Invoker) *Mux {
	return &Mux{
		bound:    make(map[string]Invoker),
		fallback: fallback,
	}
}

// Bind routes all calls for agentID to inv.
func (m *Mux) Bind(agentID string, inv Invoker) {
	m.bound[agentID] = inv
}

// Invoke routes the call to the agent's bound invoker or the fallback.
func (m *Mux) Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error) {
	return m.pick(agent.ID).Invoke(ctx, agent, capability, payload)
}

// Probe routes the probe to the agent's bound invoker or the fallback.
func (m *Mux) Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error) {
	return m.pick(agent.ID).Probe(ctx, agent)
}

func (m *Mux) pick(agentID string) Invoker {
	if inv, ok := m.bound[agentID]; ok {
		return inv
	}
	return m.fallback
}
