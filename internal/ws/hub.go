package ws

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"walletchat/internal/domain"
)

// Conn is the write side of a websocket connection. *websocket.Conn satisfies
// it; tests substitute an in-memory recorder.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type client struct {
	conn   Conn
	handle string
	rooms  map[string]struct{}
}

// Hub routes outbound payloads to live connections. Each address has at most
// one authoritative client; registering a newer connection supersedes the
// previous one, which stops receiving fan-out but is not force-closed here.
// Group rooms are connection-local subscriptions and die with the client.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     *zap.Logger
	metrics *hubMetrics
}

func NewHub(log *zap.Logger, reg prometheus.Registerer) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		log:     log,
		metrics: newHubMetrics(reg),
	}
}

// Register binds conn as the authoritative connection for address and returns
// the superseded Conn, if any, so the caller can close it.
func (h *Hub) Register(address, handle string, conn Conn) Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	var superseded Conn
	if prev, ok := h.clients[address]; ok {
		superseded = prev.conn
		h.metrics.recordSupersede()
	}
	h.clients[address] = &client{
		conn:   conn,
		handle: handle,
		rooms:  make(map[string]struct{}),
	}
	return superseded
}

// Unregister removes the binding if handle still owns it. A stale handle is a
// no-op so a superseded connection's late disconnect cannot evict its
// successor.
func (h *Hub) Unregister(address, handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[address]
	if !ok || c.handle != handle {
		return false
	}
	delete(h.clients, address)
	return true
}

// JoinRoom subscribes the address's current connection to a group room.
func (h *Hub) JoinRoom(address, handle, groupID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[address]
	if !ok || c.handle != handle {
		return false
	}
	c.rooms[groupID] = struct{}{}
	return true
}

func (h *Hub) LeaveRoom(address, handle, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[address]; ok && c.handle == handle {
		delete(c.rooms, groupID)
	}
}

// SendToAddress writes payload to the address's authoritative connection.
// Returns false when the address is offline or the write fails.
func (h *Hub) SendToAddress(address string, payload any) bool {
	h.mu.RLock()
	c, ok := h.clients[address]
	h.mu.RUnlock()

	if !ok {
		h.metrics.recordDrop("offline")
		return false
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		h.metrics.recordDrop("write_error")
		c.conn.Close()
		return false
	}
	h.metrics.recordDelivery()
	return true
}

// BroadcastToRoom writes payload to every connection subscribed to the group
// room, skipping except when non-empty.
func (h *Hub) BroadcastToRoom(groupID string, payload any, except string) {
	h.mu.RLock()
	targets := make([]*client, 0)
	for addr, c := range h.clients {
		if addr == except {
			continue
		}
		if _, in := c.rooms[groupID]; in {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.conn.WriteJSON(payload); err != nil {
			h.metrics.recordDrop("write_error")
			c.conn.Close()
			continue
		}
		h.metrics.recordDelivery()
	}
}

// InRoom reports whether the address's current connection joined the room.
func (h *Hub) InRoom(address, groupID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[address]
	if !ok {
		return false
	}
	_, in := c.rooms[groupID]
	return in
}

// MessageCreated fans a freshly persisted message out to its audience: the
// peer's connection for a direct message, the group room minus the sender
// for a group message. The sender already gets a delivery ack on its own
// connection, so including it here would double the echo.
func (h *Hub) MessageCreated(m *domain.Message) {
	payload := newMessagePayload(m)
	if peer, ok := m.Scope.Peer(); ok {
		h.metrics.recordPersisted("direct")
		h.SendToAddress(peer, payload)
		return
	}
	if groupID, ok := m.Scope.Group(); ok {
		h.metrics.recordPersisted("group")
		h.BroadcastToRoom(groupID, payload, m.From)
	}
}

// MessageRead tells the sender their direct message was read.
func (h *Hub) MessageRead(m *domain.Message, reader string) {
	h.SendToAddress(m.From, messageReadPayload(m, reader, time.Now().UTC()))
}
