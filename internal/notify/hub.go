// Package notify fans document completion events out to interested
// listeners. Delivery is best-effort: slow or absent listeners never block
// the pipeline, and correctness of document state does not depend on any
// event being observed.
package notify

import "sync"

// Event announces that a document reached a terminal ingestion state.
type Event struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

const subscriberBuffer = 16

// Hub is an in-process publish/subscribe channel for completion events.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away; the channel is closed by it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber whose buffer has room.
// Full buffers are skipped, not waited on.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// DocumentCompleted publishes a terminal-state event for a document.
// Satisfies the ingestion pipeline's notifier dependency.
func (h *Hub) DocumentCompleted(documentID, status string) {
	h.Publish(Event{DocumentID: documentID, Status: status})
}
