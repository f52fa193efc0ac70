package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaskStateValid(t *testing.T) {
	valid := []TaskState{TaskQueued, TaskBlocked, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskState("pending").Valid() {
		t.Error("expected 'pending' to be invalid")
	}
	if TaskState("").Valid() {
		t.Error("expected empty state to be invalid")
	}
}

func TestTaskStateTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskQueued, false},
		{TaskBlocked, false},
		{TaskRunning, false},
		{TaskCompleted, true},
		{TaskFailed, true},
		{TaskCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	for _, p := range Priorities() {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}

	if Priority("critical").Valid() {
		t.Error("expected 'critical' to be invalid")
	}
}

func TestPrioritiesOrder(t *testing.T) {
	want := []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	got := Priorities()

	if len(got) != len(want) {
		t.Fatalf("expected %d priorities, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTaskSnapshotIsDeepCopy(t *testing.T) {
	started := time.Now()
	task := &Task{
		ID:        "task-1",
		State:     TaskRunning,
		DependsOn: []string{"task-0"},
		Payload:   json.RawMessage(`{"k":"v"}`),
		StartedAt: &started,
	}

	snap := task.Snapshot()
	snap.DependsOn[0] = "mutated"
	snap.Payload[0] = 'X'
	*snap.StartedAt = started.Add(time.Hour)

	if task.DependsOn[0] != "task-0" {
		t.Error("snapshot mutation leaked into DependsOn")
	}
	if task.Payload[0] != '{' {
		t.Error("snapshot mutation leaked into Payload")
	}
	if !task.StartedAt.Equal(started) {
		t.Error("snapshot mutation leaked into StartedAt")
	}
}
