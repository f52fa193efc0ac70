package taskmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dispatchd/pkg/models"
)

// errAttemptTimeout marks a dispatch attempt that outlived its deadline.
// Retryable, same policy as a remote failure.
var errAttemptTimeout = errors.New("dispatch attempt timed out")

// Run is the scheduler loop: the single authority for dispatch decisions.
// It drains ready work whenever a wake event arrives (task created, task
// finished, retry timer elapsed, cancellation) and returns when the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.dispatchReady(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
			m.dispatchReady(ctx)
		}
	}
}

// dispatchReady takes the head of the highest-priority non-empty lane and
// dispatches it, repeating until the concurrency bound is reached or the
// lanes are empty. Backpressure is implicit: excess tasks simply stay
// queued.
func (m *Manager) dispatchReady(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.paused && !m.closed && len(m.inflight) < m.cfg.MaxConcurrent {
		taskID, ok := m.lanes.pop()
		if !ok {
			break
		}
		t, ok := m.tasks[taskID]
		if !ok || t.State != models.TaskQueued {
			// Lane entries are removed on cancel, so this indicates a bug.
			debugLog("[scheduler] dropping stale lane entry %s", taskID)
			continue
		}

		now := m.clk.Now()
		t.State = models.TaskRunning
		t.StartedAt = &now

		ictx, cancel := context.WithCancel(ctx)
		m.inflight[taskID] = cancel

		debugLog("[scheduler] dispatching task %s (%s, %s lane, attempt %d)", taskID, t.Capability, t.Priority, t.RetryCount+1)
		m.emitLocked(t, EventTaskStarted, "")
		m.notifySubsLocked(t)
		m.metrics.ObserveTransition(string(models.TaskRunning), "")

		go m.execute(ictx, taskID, t.Capability, append(json.RawMessage(nil), t.Payload...), t.Timeout)
	}
	m.updateGaugesLocked()
}

type invokeOutcome struct {
	result json.RawMessage
	err    error
}

// execute runs one dispatch attempt outside the lock: route the
// capability, invoke the agent, and race the result against the task's
// timeout. The attempt context doubles as the best-effort remote
// cancellation signal.
func (m *Manager) execute(ctx context.Context, taskID, capability string, payload json.RawMessage, timeout time.Duration) {
	agent, err := m.router.Route(capability)
	if err != nil {
		// No live agent is a dispatch failure like any other, handled by
		// the retry policy rather than surfaced to the caller.
		m.finishAttempt(taskID, nil, fmt.Errorf("route: %w", err))
		return
	}

	if !m.assignAgent(taskID, agent.ID) {
		// Cancelled between dispatch and routing.
		return
	}

	outcome := make(chan invokeOutcome, 1)
	go func() {
		result, err := m.inv.Invoke(ctx, agent, capability, payload)
		outcome <- invokeOutcome{result: result, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = m.clk.After(timeout)
	}

	select {
	case out := <-outcome:
		m.finishAttempt(taskID, out.result, out.err)
	case <-timeoutCh:
		// Signal the remote side; local state transitions regardless.
		m.signalCancel(taskID)
		m.finishAttempt(taskID, nil, fmt.Errorf("%w after %s", errAttemptTimeout, timeout))
	case <-ctx.Done():
		// Cancelled via Cancel(); that path already transitioned state.
	}
}

// assignAgent records the routed agent on a still-running task. Returns
// false if the task has left the running state in the meantime.
func (m *Manager) assignAgent(taskID, agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.State != models.TaskRunning {
		return false
	}
	t.AgentID = agentID
	return true
}

// signalCancel fires the stored cancellation for an in-flight invocation.
func (m *Manager) signalCancel(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.inflight[taskID]; ok {
		cancel()
	}
}

// finishAttempt applies the outcome of a dispatch attempt. Completion and
// timeout can race for the same task; whichever acquires the lock first
// wins, and the later arrival is discarded as a logged anomaly so state
// never regresses out of a terminal or re-queued state.
func (m *Manager) finishAttempt(taskID string, result json.RawMessage, attemptErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	if t.State != models.TaskRunning {
		debugLog("[scheduler] ANOMALY: late outcome for task %s in state %s discarded", taskID, t.State)
		m.emitLocked(t, EventAnomaly, fmt.Sprintf("late outcome discarded in state %s", t.State))
		return
	}

	if cancel, ok := m.inflight[taskID]; ok {
		cancel()
		delete(m.inflight, taskID)
	}

	now := m.clk.Now()
	if attemptErr == nil {
		t.State = models.TaskCompleted
		t.CompletedAt = &now
		t.Result = append(json.RawMessage(nil), result...)
		t.Error = ""
		m.completedCount++
		m.completedTotal += now.Sub(t.CreatedAt)

		debugLog("[scheduler] task %s completed", taskID)
		m.emitLocked(t, EventTaskCompleted, "")
		m.notifySubsLocked(t)
		m.metrics.ObserveTransition(string(models.TaskCompleted), "")
		m.metrics.ObserveTaskDuration(string(models.TaskCompleted), now.Sub(t.CreatedAt))

		m.promoteDependentsLocked(taskID)
	} else {
		t.Error = attemptErr.Error()

		if t.RetryCount < t.MaxRetries {
			t.RetryCount++
			if t.RetryCount == 1 {
				m.retriedTasks++
			}
			// Back in queued state while waiting out the backoff; the lane
			// entry happens when the delay elapses.
			t.State = models.TaskQueued
			t.AgentID = ""
			delay := m.backoffDelay(t.RetryCount)

			debugLog("[scheduler] task %s attempt failed (%v), retry %d/%d in %s", taskID, attemptErr, t.RetryCount, t.MaxRetries, delay)
			m.emitLocked(t, EventTaskRetrying, "")
			m.notifySubsLocked(t)
			m.metrics.IncRetry(t.Capability)

			go m.requeueAfter(taskID, delay)
		} else {
			t.State = models.TaskFailed
			t.CompletedAt = &now

			debugLog("[scheduler] task %s failed permanently after %d retries: %v", taskID, t.RetryCount, attemptErr)
			m.emitLocked(t, EventTaskFailed, "")
			m.notifySubsLocked(t)
			m.metrics.ObserveTransition(string(models.TaskFailed), "retries_exhausted")
			m.metrics.ObserveTaskDuration(string(models.TaskFailed), now.Sub(t.CreatedAt))

			m.cascadeLocked(taskID, models.TaskFailed)
		}
	}

	m.updateGaugesLocked()
	m.wakeLocked()
}

// requeueAfter re-enters a retrying task at the tail of its lane once the
// backoff elapses. Skipped if the task was cancelled during the wait or
// the manager closed.
func (m *Manager) requeueAfter(taskID string, delay time.Duration) {
	select {
	case <-m.clk.After(delay):
	case <-m.done:
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.State != models.TaskQueued {
		return
	}
	m.lanes.push(t.Priority, taskID, false)
	debugLog("[scheduler] task %s re-queued after backoff", taskID)
	m.emitLocked(t, EventTaskQueued, "")
	m.updateGaugesLocked()
	m.wakeLocked()
}

// backoffDelay returns base*2^attempt, capped.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	d := m.cfg.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.RetryMaxDelay {
			return m.cfg.RetryMaxDelay
		}
	}
	return d
}

// promoteDependentsLocked moves dependents whose dependencies are now all
// complete from blocked to the tail of their lane, so newly unblocked
// tasks never jump ahead of work already queued at the same priority.
// Caller holds m.mu.
func (m *Manager) promoteDependentsLocked(taskID string) {
	for _, depID := range m.graph.dependentsOf(taskID) {
		dep, ok := m.tasks[depID]
		if !ok || dep.State != models.TaskBlocked {
			continue
		}
		ready := true
		for _, reqID := range m.graph.dependenciesOf(depID) {
			req, ok := m.tasks[reqID]
			if !ok || req.State != models.TaskCompleted {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		dep.State = models.TaskQueued
		m.lanes.push(dep.Priority, depID, false)
		debugLog("[scheduler] task %s unblocked, queued in %s lane", depID, dep.Priority)
		m.emitLocked(dep, EventTaskQueued, "")
		m.notifySubsLocked(dep)
	}
}

// cascadeLocked propagates a terminal state to every transitive dependent
// that has not started, in one sweep so no observer sees a partially
// cascaded graph. Dependents are marked with reason dependency_failed and
// are never dispatched. Caller holds m.mu.
func (m *Manager) cascadeLocked(rootID string, terminal models.TaskState) {
	now := m.clk.Now()
	for _, depID := range m.graph.transitiveDependents(rootID) {
		t, ok := m.tasks[depID]
		if !ok || t.State.Terminal() || t.State == models.TaskRunning {
			continue
		}
		if t.State == models.TaskQueued {
			m.lanes.remove(t.Priority, depID)
		}
		t.State = terminal
		t.Reason = models.ReasonDependencyFailed
		t.CompletedAt = &now

		debugLog("[scheduler] task %s %s by cascade from %s", depID, terminal, rootID)
		if terminal == models.TaskCancelled {
			m.emitLocked(t, EventTaskCancelled, "")
		} else {
			m.emitLocked(t, EventTaskFailed, "")
		}
		m.notifySubsLocked(t)
		m.metrics.ObserveTransition(string(terminal), models.ReasonDependencyFailed)
	}
}
