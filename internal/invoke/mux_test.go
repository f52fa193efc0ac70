package invoke

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"dispatchd/pkg/models"
)

type namedInvoker struct{ name string }

func (n namedInvoker) Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"` + n.name + `"`), nil
}

func (n namedInvoker) Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error) {
	return models.HealthSample{Latency: time.Millisecond, CheckedAt: time.Now()}, nil
}

func TestMuxRouting(t *testing.T) {
	mux := NewMux(namedInvoker{name: "remote"})
	mux.Bind("local", namedInvoker{name: "local"})

	cases := []struct {
		agentID string
		want    string
	}{
		{"local", `"local"`},
		{"other", `"remote"`},
	}
	for _, tc := range cases {
		out, err := mux.Invoke(context.Background(), models.AgentDescriptor{ID: tc.agentID}, "cap", nil)
		if err != nil {
			t.Fatalf("invoke %s: %v", tc.agentID, err)
		}
		if string(out) != tc.want {
			t.Errorf("agent %s: expected %s, got %s", tc.agentID, tc.want, out)
		}
	}
}
