package taskmgr

import (
	"dispatchd/pkg/models"
)

// laneSet holds one FIFO queue of task IDs per priority level. A task ID
// appears in at most one lane, and only while the task is queued. Not
// safe for concurrent use; the manager serializes access.
type laneSet struct {
	queues map[models.Priority][]string
	// depthLimit bounds each lane at submission time. Zero means unbounded.
	depthLimit int
}

func newLaneSet(depthLimit int) *laneSet {
	ls := &laneSet{
		queues:     make(map[models.Priority][]string, len(models.Priorities())),
		depthLimit: depthLimit,
	}
	for _, p := range models.Priorities() {
		ls.queues[p] = nil
	}
	return ls
}

// push appends a task to the tail of its priority lane. enforceLimit
// applies the depth limit; promotions from blocked bypass it so a task
// admitted at creation time is never stranded.
func (ls *laneSet) push(p models.Priority, taskID string, enforceLimit bool) error {
	if enforceLimit && ls.depthLimit > 0 && len(ls.queues[p]) >= ls.depthLimit {
		return ErrLaneFull
	}
	ls.queues[p] = append(ls.queues[p], taskID)
	return nil
}

// pop removes and returns the head of the first non-empty lane in strict
// priority order. Returns false if every lane is empty.
func (ls *laneSet) pop() (string, bool) {
	for _, p := range models.Priorities() {
		q := ls.queues[p]
		if len(q) == 0 {
			continue
		}
		taskID := q[0]
		ls.queues[p] = q[1:]
		return taskID, true
	}
	return "", false
}

// remove deletes a task from its lane, preserving order of the rest.
// Returns false if the task was not queued.
func (ls *laneSet) remove(p models.Priority, taskID string) bool {
	q := ls.queues[p]
	for i, id := range q {
		if id == taskID {
			ls.queues[p] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

// depths returns the current queue length per priority.
func (ls *laneSet) depths() map[models.Priority]int {
	out := make(map[models.Priority]int, len(ls.queues))
	for p, q := range ls.queues {
		out[p] = len(q)
	}
	return out
}

// total returns the number of queued tasks across all lanes.
func (ls *laneSet) total() int {
	n := 0
	for _, q := range ls.queues {
		n += len(q)
	}
	return n
}
