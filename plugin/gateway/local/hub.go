package local

import (
	"sync"
	"time"

	"github.com/hrygo/convsync/plugin/gateway"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 128

// Hub fans push events out to subscribers in publication order.
// A subscriber whose buffer is full is dropped and its channel closed.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	subs    map[int]chan gateway.Event
	nextSub int
	now     func() time.Time
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]chan gateway.Event),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Publish stamps event with the next sequence number and delivers it.
func (h *Hub) Publish(event gateway.Event) gateway.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event.Seq = h.nextSeq
	event.Timestamp = h.now()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan gateway.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan gateway.Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
