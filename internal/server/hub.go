package server

import (
	"context"
	"sync"

	"dispatchd/internal/taskmgr"
)

// Hub fans the manager's single event channel out to any number of
// subscribers: the journal, websocket clients, and the watch TUI. Slow
// subscribers lose events rather than stalling the broadcast loop.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan taskmgr.Event
	next int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan taskmgr.Event)}
}

// Run broadcasts events until the source closes or the context is
// cancelled, then closes all subscriber channels.
func (h *Hub) Run(ctx context.Context, events <-chan taskmgr.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

// Subscribe returns a buffered event channel and a detach func. The
// channel closes when the hub shuts down or the detach func runs.
func (h *Hub) Subscribe(buffer int) (<-chan taskmgr.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan taskmgr.Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (h *Hub) broadcast(ev taskmgr.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
