// Package events fans history changes out to the open views of a session,
// locally over SSE and across instances over RabbitMQ.
package events

import (
	"sync"
)

// Message types sent to subscribers
const (
	TypeHistoryChanged = "history"
	TypeSessionReset   = "reset"
)

// Message is one notification for the views of a session
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const subscriberBuffer = 16

// Hub keeps the live subscribers of every session
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Message]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Message]struct{})}
}

// Subscribe registers a listener for sessionID. The returned function
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Message]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
}

// Publish delivers msg to every subscriber of sessionID. Slow subscribers
// miss messages rather than block the publisher. It returns the number of
// subscribers reached.
func (h *Hub) Publish(sessionID string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subs[sessionID] {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of listeners of sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
