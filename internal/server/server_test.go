package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dispatchd/internal/registry"
	"dispatchd/internal/router"
	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

// okInvoker completes every invocation immediately.
type okInvoker struct{}

func (okInvoker) Invoke(ctx context.Context, agent models.AgentDescriptor, capability string, payload json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func (okInvoker) Probe(ctx context.Context, agent models.AgentDescriptor) (models.HealthSample, error) {
	return models.HealthSample{Latency: time.Millisecond, CheckedAt: time.Now()}, nil
}

func newTestServer(t *testing.T) (*Server, *taskmgr.Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	mgr := taskmgr.New(reg, router.New(reg), okInvoker{}, taskmgr.Config{}, nil)
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	go hub.Run(ctx, mgr.Events())
	t.Cleanup(func() {
		cancel()
		mgr.Close()
	})

	return New(mgr, reg, hub, Config{Listen: ":0"}), mgr, reg
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s, mgr, reg := newTestServer(t)
	mgr.Pause()
	reg.Register(models.AgentDescriptor{
		ID:       "a1",
		Endpoint: "http://a1.local",
		Capabilities: []models.CapabilityGrant{
			{Capability: "crm.lead.score", Confidence: 0.9},
		},
	})

	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/tasks", taskmgr.CreateRequest{
		Capability: "crm.lead.score",
		Priority:   models.PriorityHigh,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	w = doJSON(t, s.Handler(), http.MethodGet, "/v1/tasks/"+created.TaskID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var task models.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.State != models.TaskQueued {
		t.Errorf("expected queued, got %s", task.State)
	}

	w = doJSON(t, s.Handler(), http.MethodDelete, "/v1/tasks/"+created.TaskID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}

	w = doJSON(t, s.Handler(), http.MethodGet, "/v1/tasks/"+created.TaskID, nil)
	json.Unmarshal(w.Body.Bytes(), &task)
	if task.State != models.TaskCancelled {
		t.Errorf("expected cancelled, got %s", task.State)
	}
}

func TestCreateTaskRejections(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/tasks", taskmgr.CreateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty capability: expected 400, got %d", w.Code)
	}

	w = doJSON(t, s.Handler(), http.MethodPost, "/v1/tasks", taskmgr.CreateRequest{
		Capability: "x",
		Priority:   "extreme",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad priority: expected 400, got %d", w.Code)
	}
}

func TestTaskNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	if w := doJSON(t, s.Handler(), http.MethodGet, "/v1/tasks/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get: expected 404, got %d", w.Code)
	}
	if w := doJSON(t, s.Handler(), http.MethodDelete, "/v1/tasks/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel: expected 404, got %d", w.Code)
	}
}

func TestAgentEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/agents", models.AgentDescriptor{
		ID:       "a1",
		Endpoint: "http://a1.local",
		Capabilities: []models.CapabilityGrant{
			{Capability: "crm.contact.enrich", Confidence: 0.8},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Missing identity is rejected.
	w = doJSON(t, s.Handler(), http.MethodPost, "/v1/agents", models.AgentDescriptor{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty descriptor, got %d", w.Code)
	}

	w = doJSON(t, s.Handler(), http.MethodGet, "/v1/agents", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "a1") {
		t.Errorf("list: expected a1 in %s", w.Body.String())
	}

	w = doJSON(t, s.Handler(), http.MethodGet, "/v1/registry/stats", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "total_agents") {
		t.Errorf("stats: unexpected body %s", w.Body.String())
	}

	w = doJSON(t, s.Handler(), http.MethodDelete, "/v1/agents/a1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("deregister: expected 200, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, mgr, _ := newTestServer(t)
	mgr.Pause()

	doJSON(t, s.Handler(), http.MethodPost, "/v1/tasks", taskmgr.CreateRequest{Capability: "x"})

	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats taskmgr.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCreated != 1 {
		t.Errorf("expected 1 created, got %d", stats.TotalCreated)
	}
}

func TestTaskEventsWebsocket(t *testing.T) {
	s, mgr, reg := newTestServer(t)
	mgr.Pause()
	reg.Register(models.AgentDescriptor{
		ID:       "a1",
		Endpoint: "http://a1.local",
		Capabilities: []models.CapabilityGrant{
			{Capability: "cap.ws", Confidence: 0.9},
		},
	})

	id, err := mgr.CreateTask(taskmgr.CreateRequest{Capability: "cap.ws"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tasks/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	mgr.Resume()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last taskmgr.Event
	for {
		var ev taskmgr.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
	}
	if last.State != models.TaskCompleted {
		t.Errorf("expected final event completed, got %s", last.State)
	}
}

func TestHubFanout(t *testing.T) {
	hub := NewHub()
	events := make(chan taskmgr.Event, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, events)

	ch1, cancel1 := hub.Subscribe(4)
	ch2, cancel2 := hub.Subscribe(4)
	defer cancel1()
	defer cancel2()

	events <- taskmgr.Event{Type: taskmgr.EventTaskCreated, TaskID: "t1"}

	for i, ch := range []<-chan taskmgr.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.TaskID != "t1" {
				t.Errorf("subscriber %d: unexpected event %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}

	// Closing the source closes subscribers.
	close(events)
	select {
	case _, ok := <-ch1:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed")
	}
}
