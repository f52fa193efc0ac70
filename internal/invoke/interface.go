// Package invoke defines the boundary through which the core reaches
// worker agents. The task manager and health monitor depend only on the
// Invoker interface, never on a concrete transport.
package invoke

import (
	"context"
	"encoding/json"

	"dispatchd/pkg/models"
)

// Invoker executes capabilities on agents and probes their health.
//
// Both methods honor context cancellation as a best-effort signal to the
// remote side: callers cancel the context on timeout or task cancellation
// and never wait for remote acknowledgement.
type Invoker interface {
	// Invoke asks the agent to perform the capability on the payload and
	// returns the opaque result.
	Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error)
	// Probe checks the agent's health endpoint and reports round-trip latency.
	Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error)
}
