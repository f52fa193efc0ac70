package journal

import (
	"path/filepath"
	"testing"
	"time"

	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndTaskHistory(t *testing.T) {
	j := openTestJournal(t)

	now := time.Now().Truncate(time.Millisecond)
	events := []taskmgr.Event{
		{Type: taskmgr.EventTaskCreated, TaskID: "t1", State: models.TaskQueued, Priority: models.PriorityHigh, Timestamp: now},
		{Type: taskmgr.EventTaskStarted, TaskID: "t1", State: models.TaskRunning, Priority: models.PriorityHigh, AgentID: "a1", Timestamp: now.Add(time.Second)},
		{Type: taskmgr.EventTaskCompleted, TaskID: "t1", State: models.TaskCompleted, Priority: models.PriorityHigh, AgentID: "a1", Timestamp: now.Add(2 * time.Second)},
		{Type: taskmgr.EventTaskCreated, TaskID: "t2", State: models.TaskBlocked, Priority: models.PriorityLow, Timestamp: now},
	}
	for _, ev := range events {
		if err := j.Append(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := j.TaskHistory("t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 events for t1, got %d", len(history))
	}
	if history[0].Type != taskmgr.EventTaskCreated || history[2].Type != taskmgr.EventTaskCompleted {
		t.Errorf("history out of order: %v then %v", history[0].Type, history[2].Type)
	}
	if history[1].AgentID != "a1" {
		t.Errorf("expected agent id preserved, got %q", history[1].AgentID)
	}
	if !history[0].OccurredAt.Equal(now.UTC()) {
		t.Errorf("expected timestamp %s, got %s", now.UTC(), history[0].OccurredAt)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	j := openTestJournal(t)

	for i, id := range []string{"t1", "t2", "t3"} {
		ev := taskmgr.Event{
			Type:      taskmgr.EventTaskCreated,
			TaskID:    id,
			State:     models.TaskQueued,
			Priority:  models.PriorityMedium,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := j.Append(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].TaskID != "t3" || recent[1].TaskID != "t2" {
		t.Errorf("expected newest first, got %s then %s", recent[0].TaskID, recent[1].TaskID)
	}
}

func TestCountByType(t *testing.T) {
	j := openTestJournal(t)

	for _, typ := range []taskmgr.EventType{
		taskmgr.EventTaskCreated, taskmgr.EventTaskCreated, taskmgr.EventTaskFailed,
	} {
		ev := taskmgr.Event{Type: typ, TaskID: "t1", State: models.TaskQueued, Priority: models.PriorityMedium, Timestamp: time.Now()}
		if err := j.Append(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	counts, err := j.CountByType()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[taskmgr.EventTaskCreated] != 2 || counts[taskmgr.EventTaskFailed] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := j.Append(taskmgr.Event{Type: taskmgr.EventTaskCreated, TaskID: "t1", State: models.TaskQueued, Priority: models.PriorityMedium, Timestamp: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	j.Close()

	// Re-opening runs migrations again; existing data survives.
	j2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer j2.Close()

	history, err := j2.TaskHistory("t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected event to survive reopen, got %d", len(history))
	}
}
