// Package sse implements the live event stream of spec §6.2: every open
// connection is bound to (owner, agent); matched events are pushed as
// "data: <json>" frames with a ping comment every SSE_PING_INTERVAL.
package sse

import (
	"sync"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// Frame is one event pushed to a connection. LastEventID carries the
// breadcrumb version. Handler does not read a client's Last-Event-ID
// header and frames are not replayed: a reconnecting client receives only
// frames pushed after it registers.
type Frame struct {
	EventName    string
	LastEventID  int64
	Event        models.Event
}

type subscriber struct {
	owner string
	agent string
	ch    chan Frame
}

// Hub fans matched events out to every open connection for an
// (owner, agent) pair. One hub instance is shared process-wide; each
// SSE handler call registers/deregisters a subscriber around its loop.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber // key: owner+":"+agent
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*subscriber)}
}

// Register opens a buffered channel for (owner, agent) and returns it
// plus a deregister func the caller must defer.
func (h *Hub) Register(owner, agent string) (<-chan Frame, func()) {
	sub := &subscriber{owner: owner, agent: agent, ch: make(chan Frame, 64)}
	key := owner + ":" + agent

	h.mu.Lock()
	h.subs[key] = append(h.subs[key], sub)
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		peers := h.subs[key]
		for i, s := range peers {
			if s == sub {
				h.subs[key] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
}

// Push delivers frame to every connection open for (owner, agent). A
// connection whose send buffer is full is considered a slow consumer;
// the frame is dropped for it rather than blocking the fanout engine.
func (h *Hub) Push(owner, agent string, frame Frame) {
	key := owner + ":" + agent
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[key] {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

// Connections reports how many open connections exist for (owner, agent).
func (h *Hub) Connections(owner, agent string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner+":"+agent])
}
