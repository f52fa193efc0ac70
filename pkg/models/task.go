package models

import (
	"encoding/json"
	"time"
)

// TaskState represents the current state of a task.
type TaskState string

const (
	// TaskQueued indicates the task is ready to run and waiting in a lane.
	TaskQueued TaskState = "queued"
	// TaskBlocked indicates the task is waiting on unmet dependencies.
	TaskBlocked TaskState = "blocked"
	// TaskRunning indicates the task has been dispatched to an agent.
	TaskRunning TaskState = "running"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskState = "completed"
	// TaskFailed indicates the task failed permanently.
	TaskFailed TaskState = "failed"
	// TaskCancelled indicates the task was cancelled before completion.
	TaskCancelled TaskState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskQueued, TaskBlocked, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are permitted out of this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Priority represents the scheduling priority of a task.
type Priority string

const (
	// PriorityUrgent is dispatched before all other priorities.
	PriorityUrgent Priority = "urgent"
	// PriorityHigh is dispatched before medium and low.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityLow is dispatched only when no higher lane has work.
	PriorityLow Priority = "low"
)

// Priorities lists all priorities in strict dispatch order, highest first.
func Priorities() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
}

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// ReasonDependencyFailed is recorded on tasks that fail because a task they
// depend on reached a terminal failure, without ever being dispatched.
const ReasonDependencyFailed = "dependency_failed"

// Task represents a unit of work routed to a capability-providing agent.
type Task struct {
	// ID is the unique identifier for this task, generated on creation.
	ID string `json:"id"`
	// ContextID groups related tasks for reporting. It has no effect on scheduling.
	ContextID string `json:"context_id,omitempty"`
	// Capability names the work to perform, e.g. "crm.contact.enrich".
	Capability string `json:"capability"`
	// Priority determines which lane the task waits in.
	Priority Priority `json:"priority"`
	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// State is the current lifecycle state of the task.
	State TaskState `json:"state"`
	// Payload is the opaque capability input, owned by the caller.
	Payload json.RawMessage `json:"payload,omitempty"`
	// CreatedAt is when the task was accepted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was first dispatched, if ever.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// AgentID is the agent the task was last dispatched to.
	AgentID string `json:"agent_id,omitempty"`
	// RetryCount is the number of retries consumed so far.
	RetryCount int `json:"retry_count"`
	// MaxRetries bounds how many times a failed dispatch is retried.
	MaxRetries int `json:"max_retries"`
	// Timeout bounds a single dispatch attempt. Zero means the manager default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Result holds the capability output once the task completes.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the most recent dispatch error, or the terminal error.
	Error string `json:"error,omitempty"`
	// Reason is set for terminal states assigned without dispatch,
	// e.g. "dependency_failed" during a cascade sweep.
	Reason string `json:"reason,omitempty"`
}

// Snapshot returns a deep copy of the task safe to hand to callers.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Payload = append(json.RawMessage(nil), t.Payload...)
	cp.Result = append(json.RawMessage(nil), t.Result...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return cp
}
