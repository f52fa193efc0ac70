package taskmgr

import (
	"log"
	"sync/atomic"
	"time"
)

// Emitter is the manager's event channel. It is single-consumer: a fan-out
// layer (journal, HTTP stream) sits on the other end. Emission never blocks
// the scheduler for long; a full channel gets a short grace period, then
// the event is dropped and counted.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full it retries briefly before
// dropping the event.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	// Give the consumer a chance to drain before dropping.
	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[taskmgr] WARNING: event channel full, dropped event (total dropped: %d): type=%s task=%s", count, event.Type, event.TaskID)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for the consumer.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call only after the manager has stopped
// emitting.
func (e *Emitter) Close() {
	close(e.events)
}
