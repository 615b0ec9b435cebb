package cronlog

import (
	"sync"

	"stepflow/internal/domain"
)

const subscriberBuffer = 64

// Hub fans log events out to live subscribers. Delivery is at-most-once
// with no replay: a subscriber whose buffer is full misses the event, and
// publishing never blocks the caller.
type Hub struct {
	mu   sync.Mutex
	subs map[chan domain.LogEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan domain.LogEvent]struct{}{}}
}

// Subscribe registers a new listener. The caller must Unsubscribe the
// returned channel when done.
func (h *Hub) Subscribe() chan domain.LogEvent {
	ch := make(chan domain.LogEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan domain.LogEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(ev domain.LogEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
