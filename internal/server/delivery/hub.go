package delivery

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/mediarelay/internal/logging"
)

// Conn is one connected client. Send must not block; it reports false when
// the frame was dropped because the client is slow or gone.
type Conn interface {
	ID() string
	Send(payload []byte) bool
}

// closer is implemented by connections the hub can shut down when they
// stop keeping up with broadcasts.
type closer interface {
	Close()
}

// Hub tracks connections and topic memberships.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	topics map[string]map[string]struct{}
	joined map[string]map[string]struct{}
	log    logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		topics: make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		log:    log.With("module", "hub"),
	}
}

func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	if _, ok := h.joined[c.ID()]; !ok {
		h.joined[c.ID()] = make(map[string]struct{})
	}
}

// Unregister removes the connection and all of its memberships.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.joined[connID] {
		h.leaveLocked(connID, topic)
	}
	delete(h.joined, connID)
	delete(h.conns, connID)
}

// Join subscribes a registered connection to topics. Unknown connections
// are ignored.
func (h *Hub) Join(connID string, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	for _, t := range topics {
		if t == "" {
			continue
		}
		members, ok := h.topics[t]
		if !ok {
			members = make(map[string]struct{})
			h.topics[t] = members
		}
		members[connID] = struct{}{}
		h.joined[connID][t] = struct{}{}
	}
}

func (h *Hub) Leave(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, topic)
}

func (h *Hub) leaveLocked(connID, topic string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	if j, ok := h.joined[connID]; ok {
		delete(j, topic)
	}
}

// Members returns the connection ids subscribed to topic.
func (h *Hub) Members(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		out = append(out, id)
	}
	return out
}

// Emit sends event to every member of topic except exceptConnID.
func (h *Hub) Emit(topic, exceptConnID, event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}

	var slow []Conn
	h.mu.RLock()
	for id := range h.topics[topic] {
		if id == exceptConnID {
			continue
		}
		if c := h.conns[id]; c != nil && !c.Send(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.drop(slow, event)
}

// EmitAll sends event to every registered connection.
func (h *Hub) EmitAll(event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}

	var slow []Conn
	h.mu.RLock()
	for _, c := range h.conns {
		if !c.Send(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.drop(slow, event)
}

// SendTo delivers a frame to a single connection.
func (h *Hub) SendTo(connID string, f Frame) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	payload, err := encode(f)
	if err != nil {
		h.log.Error(context.Background(), "encoding frame failed", "event", f.Event, "error", err)
		return false
	}
	return c.Send(payload)
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	payload, err := encode(Frame{Event: event, Data: data})
	if err != nil {
		h.log.Error(context.Background(), "encoding frame failed", "event", event, "error", err)
		return nil, false
	}
	return payload, true
}

// drop unregisters and closes connections that refused a broadcast.
func (h *Hub) drop(conns []Conn, event string) {
	for _, c := range conns {
		h.log.Warn(context.Background(), "send buffer full, dropping connection", "conn_id", c.ID(), "event", event)
		h.Unregister(c.ID())
		if cl, ok := c.(closer); ok {
			cl.Close()
		}
	}
}
