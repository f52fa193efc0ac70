// Package taskmgr is the scheduling core: it owns task records, the
// dependency graph, the four priority lanes, and the dispatch, retry,
// timeout, and cascade-failure state machine. All state transitions pass
// through the manager's single lock so lane membership and task state are
// never observed in an inconsistent combination.
package taskmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/clock"
	"dispatchd/internal/invoke"
	"dispatchd/internal/registry"
	"dispatchd/internal/router"
	"dispatchd/pkg/models"
)

// Config holds manager tuning. Zero fields take defaults.
type Config struct {
	// MaxConcurrent bounds tasks dispatched at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// LaneDepth bounds each priority lane at submission time.
	LaneDepth int `mapstructure:"lane_depth"`
	// RetryBaseDelay is the backoff base; attempt n waits base*2^n.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	// DefaultMaxRetries applies when a request does not set max retries.
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	// DefaultTimeout applies when a request does not set a timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// EventBuffer sizes the event channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// DefaultConfig returns the standard manager tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     4,
		LaneDepth:         100,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     60 * time.Second,
		DefaultMaxRetries: 3,
		DefaultTimeout:    60 * time.Second,
		EventBuffer:       256,
	}
}

// CreateRequest describes a task submission.
type CreateRequest struct {
	// Capability names the work to perform.
	Capability string `json:"capability"`
	// ContextID groups related tasks for reporting.
	ContextID string `json:"context_id,omitempty"`
	// Priority selects the lane. Empty means medium.
	Priority models.Priority `json:"priority,omitempty"`
	// DependsOn lists task IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`
	// Payload is the opaque capability input.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Timeout bounds each dispatch attempt. Zero means the manager default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxRetries bounds retries. Negative means the manager default;
	// zero means no retries.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Stats summarizes manager state for reporting.
type Stats struct {
	// StateCounts is the number of tasks per lifecycle state.
	StateCounts map[models.TaskState]int `json:"state_counts"`
	// LaneDepths is the queue length per priority lane.
	LaneDepths map[models.Priority]int `json:"lane_depths"`
	// Running is the number of tasks currently dispatched.
	Running int `json:"running"`
	// TotalCreated counts every task ever accepted.
	TotalCreated int `json:"total_created"`
	// MeanCompletion is the mean time from creation to completion.
	MeanCompletion time.Duration `json:"mean_completion"`
	// RetryRate is retried tasks over total tasks.
	RetryRate float64 `json:"retry_rate"`
	// EventsDropped counts lifecycle events dropped by the emitter.
	EventsDropped uint64 `json:"events_dropped"`
}

// Manager is the task orchestration core. Construct with New, start the
// scheduler with Run, and shut down by cancelling Run's context and then
// calling Close.
type Manager struct {
	cfg     Config
	clk     clock.Clock
	reg     *registry.Registry
	router  *router.Router
	inv     invoke.Invoker
	emitter *Emitter
	metrics *Metrics

	// mu serializes every state transition: lane membership, task state,
	// and the dependency graph are only touched while holding it.
	mu       sync.Mutex
	tasks    map[string]*models.Task
	graph    *depGraph
	lanes    *laneSet
	inflight map[string]context.CancelFunc
	subs     map[string][]chan Event
	paused   bool
	closed   bool

	totalCreated   int
	retriedTasks   int
	completedCount int
	completedTotal time.Duration

	// wake nudges the scheduler loop; buffered so signalling never blocks.
	wake chan struct{}
	// done stops pending retry timers on Close.
	done chan struct{}
}

// New creates a Manager. Zero config fields take defaults; a nil clock
// uses the system clock.
func New(reg *registry.Registry, rtr *router.Router, inv invoke.Invoker, cfg Config, clk clock.Clock) *Manager {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = def.LaneDepth
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{
		cfg:      cfg,
		clk:      clk,
		reg:      reg,
		router:   rtr,
		inv:      inv,
		emitter:  NewEmitter(cfg.EventBuffer),
		metrics:  defaultMetrics(),
		tasks:    make(map[string]*models.Task),
		graph:    newDepGraph(),
		lanes:    newLaneSet(cfg.LaneDepth),
		inflight: make(map[string]context.CancelFunc),
		subs:     make(map[string][]chan Event),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Events returns the manager's lifecycle event channel. Single consumer;
// fan-out is the consumer's job.
func (m *Manager) Events() <-chan Event {
	return m.emitter.Events()
}

// CreateTask validates and enqueues a task, returning its generated ID.
// Validation failures, cycles, and full lanes are rejected synchronously
// and create nothing. A task whose dependency has already failed or been
// cancelled can never run: it is created directly in the failed state
// with reason dependency_failed and never enqueued.
func (m *Manager) CreateTask(req CreateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrManagerClosed
	}
	if req.Capability == "" {
		return "", validationf("capability is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return "", validationf("unknown priority %q", req.Priority)
	}
	if req.Timeout < 0 {
		return "", validationf("negative timeout")
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = m.cfg.DefaultTimeout
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = m.cfg.DefaultMaxRetries
	}

	deps := dedupe(req.DependsOn)
	depFailed := false
	allComplete := true
	for _, depID := range deps {
		dep, ok := m.tasks[depID]
		if !ok {
			return "", validationf("unknown dependency %q", depID)
		}
		switch dep.State {
		case models.TaskFailed, models.TaskCancelled:
			depFailed = true
		case models.TaskCompleted:
		default:
			allComplete = false
		}
	}

	id := uuid.NewString()
	if m.graph.wouldCycle(id, deps) {
		return "", ErrCycle
	}

	// Reject before creating anything if the task would enter a full lane.
	if !depFailed && allComplete && m.cfg.LaneDepth > 0 && m.lanes.depths()[priority] >= m.cfg.LaneDepth {
		return "", ErrLaneFull
	}

	now := m.clk.Now()
	t := &models.Task{
		ID:         id,
		ContextID:  req.ContextID,
		Capability: req.Capability,
		Priority:   priority,
		DependsOn:  deps,
		Payload:    append(json.RawMessage(nil), req.Payload...),
		CreatedAt:  now,
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
	m.tasks[id] = t
	m.graph.add(id, deps)
	m.totalCreated++

	switch {
	case depFailed:
		t.State = models.TaskFailed
		t.Reason = models.ReasonDependencyFailed
		t.CompletedAt = &now
		debugLog("[manager] task %s created failed: dependency already failed", id)
		m.emitLocked(t, EventTaskCreated, "")
		m.emitLocked(t, EventTaskFailed, "")
		m.metrics.ObserveTransition(string(models.TaskFailed), models.ReasonDependencyFailed)
	case allComplete:
		t.State = models.TaskQueued
		m.lanes.push(priority, id, false)
		debugLog("[manager] task %s queued in %s lane", id, priority)
		m.emitLocked(t, EventTaskCreated, "")
		m.emitLocked(t, EventTaskQueued, "")
		m.wakeLocked()
	default:
		t.State = models.TaskBlocked
		debugLog("[manager] task %s blocked on %d dependencies", id, len(deps))
		m.emitLocked(t, EventTaskCreated, "")
		m.emitLocked(t, EventTaskBlocked, "")
	}
	m.updateGaugesLocked()

	return id, nil
}

// Cancel marks a non-terminal task cancelled and cascades cancellation to
// dependents that have not yet started. Cancelling a terminal task is a
// no-op, not an error. A running task's in-flight invocation receives a
// best-effort cancellation signal; local state transitions regardless.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.State.Terminal() {
		return nil
	}

	switch t.State {
	case models.TaskQueued:
		m.lanes.remove(t.Priority, taskID)
	case models.TaskRunning:
		if cancel, ok := m.inflight[taskID]; ok {
			cancel()
			delete(m.inflight, taskID)
		}
	}

	now := m.clk.Now()
	t.State = models.TaskCancelled
	t.CompletedAt = &now
	debugLog("[manager] task %s cancelled", taskID)
	m.emitLocked(t, EventTaskCancelled, "")
	m.notifySubsLocked(t)
	m.metrics.ObserveTransition(string(models.TaskCancelled), "")

	m.cascadeLocked(taskID, models.TaskCancelled)
	m.updateGaugesLocked()
	m.wakeLocked()
	return nil
}

// GetTask returns a snapshot of the task.
func (m *Manager) GetTask(taskID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// Subscribe returns a stream of state-change events for one task, ending
// when the task reaches a terminal state. Subscribing to a task already
// terminal yields its terminal event and an immediately closed channel.
// Streams are restartable by re-subscribing, not rewindable. The returned
// func detaches the subscriber early.
func (m *Manager) Subscribe(taskID string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, ErrTaskNotFound
	}

	ch := make(chan Event, 16)
	if t.State.Terminal() {
		ch <- m.statusEventLocked(t)
		close(ch)
		return ch, func() {}, nil
	}

	m.subs[taskID] = append(m.subs[taskID], ch)
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		chans := m.subs[taskID]
		for i, c := range chans {
			if c == ch {
				m.subs[taskID] = append(chans[:i], chans[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel, nil
}

// ManagerStats returns per-state counts, mean creation-to-completion
// time, and the retry rate.
func (m *Manager) ManagerStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		StateCounts:   make(map[models.TaskState]int),
		LaneDepths:    m.lanes.depths(),
		Running:       len(m.inflight),
		TotalCreated:  m.totalCreated,
		EventsDropped: m.emitter.DroppedCount(),
	}
	for _, t := range m.tasks {
		s.StateCounts[t.State]++
	}
	if m.completedCount > 0 {
		s.MeanCompletion = m.completedTotal / time.Duration(m.completedCount)
	}
	if m.totalCreated > 0 {
		s.RetryRate = float64(m.retriedTasks) / float64(m.totalCreated)
	}
	return s
}

// Pause stops new dispatches. Queued and running tasks are untouched.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		m.paused = true
		debugLog("[manager] paused, no new dispatches")
	}
}

// Resume re-enables dispatching after a pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.paused = false
		debugLog("[manager] resumed")
		m.wakeLocked()
	}
}

// Paused reports whether dispatching is currently paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Close rejects further submissions, signals cancellation to in-flight
// invocations, and stops pending retry timers. Call after Run has
// returned.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
	for id, cancel := range m.inflight {
		cancel()
		delete(m.inflight, id)
	}
}

// emitLocked emits a lifecycle event built from the task's current state.
// Caller holds m.mu.
func (m *Manager) emitLocked(t *models.Task, typ EventType, msg string) {
	ev := m.statusEventLocked(t)
	ev.Type = typ
	ev.Message = msg
	m.emitter.Emit(ev)
}

// statusEventLocked builds an event snapshot of the task. Caller holds m.mu.
func (m *Manager) statusEventLocked(t *models.Task) Event {
	typ := EventTaskQueued
	switch t.State {
	case models.TaskBlocked:
		typ = EventTaskBlocked
	case models.TaskRunning:
		typ = EventTaskStarted
	case models.TaskCompleted:
		typ = EventTaskCompleted
	case models.TaskFailed:
		typ = EventTaskFailed
	case models.TaskCancelled:
		typ = EventTaskCancelled
	}
	return Event{
		Type:       typ,
		TaskID:     t.ID,
		ContextID:  t.ContextID,
		State:      t.State,
		Priority:   t.Priority,
		AgentID:    t.AgentID,
		Error:      t.Error,
		Reason:     t.Reason,
		RetryCount: t.RetryCount,
		Timestamp:  m.clk.Now(),
	}
}

// notifySubsLocked pushes the task's current state to its subscribers and
// closes their streams if the state is terminal. Slow subscribers miss
// intermediate events rather than blocking the scheduler. Caller holds m.mu.
func (m *Manager) notifySubsLocked(t *models.Task) {
	chans := m.subs[t.ID]
	if len(chans) == 0 {
		return
	}
	ev := m.statusEventLocked(t)
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
	if t.State.Terminal() {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, t.ID)
	}
}

// updateGaugesLocked refreshes the running and lane-depth gauges.
// Caller holds m.mu.
func (m *Manager) updateGaugesLocked() {
	m.metrics.SetRunning(len(m.inflight))
	for p, depth := range m.lanes.depths() {
		m.metrics.SetLaneDepth(string(p), depth)
	}
}

// wakeLocked nudges the scheduler loop without blocking.
func (m *Manager) wakeLocked() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
