// Package master hosts the control plane: it tracks connected agents,
// accepts sync requests, distributes transfer plans, and folds agent
// results back into request progress.
package master

import (
	"sync"
	"time"

	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

// Agent is one registered transfer agent.
type Agent struct {
	Endpoint model.AgentEndpoint
	ConnID   string // unique per WebSocket connection
}

// agentConnection holds an agent and its send channel.
type agentConnection struct {
	agent Agent
	send  chan protocol.Envelope
}

// Hub manages connected agents in a thread-safe manner. Duplicate agent
// ids use last-write-wins: the most recent connection replaces any
// previous one.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*agentConnection // connID -> agentConnection
	byAgentID map[string]string           // agentID -> connID
}

// NewHub creates an empty agent hub.
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*agentConnection),
		byAgentID: make(map[string]string),
	}
}

// Add registers an agent and returns a remove function. The send function
// delivers envelopes to the agent's connection; it is called from a
// dedicated writer goroutine so it never needs its own locking.
func (h *Hub) Add(a Agent, send func(env protocol.Envelope) error) (remove func()) {
	ch := make(chan protocol.Envelope, 256)

	ac := &agentConnection{agent: a, send: ch}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	// Last-write-wins: replace a stale connection for the same agent id.
	if oldConnID, exists := h.byAgentID[a.Endpoint.AgentID]; exists && oldConnID != a.ConnID {
		if oldAC, ok := h.conns[oldConnID]; ok {
			close(oldAC.send)
		}
		delete(h.conns, oldConnID)
		delete(h.byAgentID, a.Endpoint.AgentID)
	}
	h.conns[a.ConnID] = ac
	h.byAgentID[a.Endpoint.AgentID] = a.ConnID
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if _, stillExists := h.conns[a.ConnID]; !stillExists {
			h.mu.Unlock()
			return
		}
		delete(h.conns, a.ConnID)
		if h.byAgentID[a.Endpoint.AgentID] == a.ConnID {
			delete(h.byAgentID, a.Endpoint.AgentID)
		}
		h.mu.Unlock()

		// Close channel outside the lock to stop the writer goroutine.
		close(ch)
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
	}
}

// Agents returns the endpoints of every connected agent with the given
// source flag. Order is not guaranteed.
func (h *Hub) Agents(isSource bool) []model.AgentEndpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.AgentEndpoint, 0, len(h.conns))
	for _, ac := range h.conns {
		if ac.agent.Endpoint.IsSource == isSource {
			out = append(out, ac.agent.Endpoint)
		}
	}
	return out
}

// SendTo queues an envelope for a specific agent. Returns false if the
// agent is not connected or its send queue is full; either way the
// envelope was not delivered and the caller must handle the failure.
func (h *Hub) SendTo(agentID string, env protocol.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connID, exists := h.byAgentID[agentID]
	if !exists {
		return false
	}
	ac, exists := h.conns[connID]
	if !exists {
		return false
	}

	select {
	case ac.send <- env:
		return true
	default:
		return false
	}
}

// Broadcast queues an envelope for every connected agent. Sends are
// non-blocking via buffered channels so a slow agent never stalls the hub.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.mu.RLock()
	connsCopy := make([]*agentConnection, 0, len(h.conns))
	for _, ac := range h.conns {
		connsCopy = append(connsCopy, ac)
	}
	h.mu.RUnlock()

	for _, ac := range connsCopy {
		select {
		case ac.send <- env:
		default:
		}
	}
}
