package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"dispatchd/pkg/models"
)

// HTTPInvoker reaches remote agents over JSON-RPC 2.0. Capability calls
// POST to the agent's /rpc endpoint; probes GET /health.
type HTTPInvoker struct {
	client *http.Client
	nextID atomic.Int64
}

// NewHTTPInvoker creates an HTTPInvoker. A nil client uses a default with
// no global timeout; per-call deadlines come from the caller's context.
func NewHTTPInvoker(client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{client: client}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Invoke posts an agent.invoke JSON-RPC call to the agent endpoint.
func (h *HTTPInvoker) Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "agent.invoke",
		Params:  rpcParams{Capability: capability, Payload: payload},
		ID:      h.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	url := strings.TrimRight(agent.Endpoint, "/") + "/rpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke agent %s: %w", agent.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("invoke agent %s: unexpected status %d", agent.ID, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rpc response from %s: %w", agent.ID, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("invoke agent %s: %w", agent.ID, decoded.Error)
	}
	return decoded.Result, nil
}

// Probe issues a health check against the agent and measures latency.
func (h *HTTPInvoker) Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error) {
	url := strings.TrimRight(agent.Endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.HealthSample{}, fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return models.HealthSample{}, fmt.Errorf("probe agent %s: %w", agent.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return models.HealthSample{}, fmt.Errorf("probe agent %s: unexpected status %d", agent.ID, resp.StatusCode)
	}

	return models.HealthSample{
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}, nil
}
