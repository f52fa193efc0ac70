package taskmgr

import (
	"time"

	"dispatchd/pkg/models"
)

// EventType identifies a task lifecycle event.
type EventType string

const (
	// EventTaskCreated indicates a task record was created.
	EventTaskCreated EventType = "task_created"
	// EventTaskQueued indicates a task entered its priority lane.
	EventTaskQueued EventType = "task_queued"
	// EventTaskBlocked indicates a task is waiting on dependencies.
	EventTaskBlocked EventType = "task_blocked"
	// EventTaskStarted indicates a task was dispatched to an agent.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task finished successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed permanently.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskRetrying indicates a failed attempt will be retried
	// after a backoff delay.
	EventTaskRetrying EventType = "task_retrying"
	// EventAnomaly indicates a discarded late transition, such as a
	// timeout firing after the task already completed.
	EventAnomaly EventType = "anomaly"
)

// Event is a lifecycle event emitted by the manager. The journal, the
// HTTP event stream, and per-task subscribers all consume these.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// TaskID is the affected task.
	TaskID string `json:"task_id"`
	// ContextID groups related tasks for reporting.
	ContextID string `json:"context_id,omitempty"`
	// State is the task state after the event.
	State models.TaskState `json:"state"`
	// Priority is the task's priority lane.
	Priority models.Priority `json:"priority"`
	// AgentID is the executing agent, if one was assigned.
	AgentID string `json:"agent_id,omitempty"`
	// Error carries the failure message for failure and retry events.
	Error string `json:"error,omitempty"`
	// Reason distinguishes cascaded terminal states from direct ones.
	Reason string `json:"reason,omitempty"`
	// RetryCount is the attempt counter at emission time.
	RetryCount int `json:"retry_count,omitempty"`
	// Message provides additional context for anomaly events.
	Message string `json:"message,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
