package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"convo-service/internal/apperrors"
	"convo-service/internal/models"
	"convo-service/internal/observability"
)

// Hub is the push dispatcher. It indexes live clients by connection, by user and
// by conversation room, and fans events out to their send queues.
//
// Delivery is at-most-once and best effort: a full or closed queue drops the event.
// Events enqueued by one goroutine reach every client in enqueue order.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[int64]map[string]*Client
	rooms   map[int64]map[string]*Client
	closed  bool
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[int64]map[string]*Client),
		rooms:   make(map[int64]map[string]*Client),
		logger:  logger,
	}
}

// Register adds a client to the fan-out targets of its user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	h.clients[c.ID()] = c
	if _, ok := h.byUser[c.UserID()]; !ok {
		h.byUser[c.UserID()] = make(map[string]*Client)
	}
	h.byUser[c.UserID()][c.ID()] = c
}

// Unregister removes a client from every index and closes its send queue.
// Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c.ID()]; !ok {
		return
	}
	delete(h.clients, c.ID())
	if conns, ok := h.byUser[c.UserID()]; ok {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(h.byUser, c.UserID())
		}
	}
	for convID := range c.rooms {
		if conns, ok := h.rooms[convID]; ok {
			delete(conns, c.ID())
			if len(conns) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	c.rooms = make(map[int64]struct{})
	close(c.send)
}

// JoinRoom subscribes the client to a conversation room. The user then counts as
// actively viewing the conversation.
func (h *Hub) JoinRoom(c *Client, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return
	}
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[string]*Client)
	}
	h.rooms[conversationID][c.ID()] = c
	c.rooms[conversationID] = struct{}{}
}

// LeaveRoom unsubscribes the client from a conversation room.
func (h *Hub) LeaveRoom(c *Client, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(c.rooms, conversationID)
}

// IsViewing reports whether any connection of the user has joined the room.
func (h *Hub) IsViewing(userID, conversationID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[conversationID] {
		if c.UserID() == userID {
			return true
		}
	}
	return false
}

// Connections returns the number of live connections of a user.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// SendToClient queues an event for one connection.
func (h *Hub) SendToClient(c *Client, event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ID()]; ok {
		h.enqueueLocked(c, event.Type, payload)
	}
}

// SendToUser queues an event for every connection of the user.
func (h *Hub) SendToUser(userID int64, event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		h.enqueueLocked(c, event.Type, payload)
	}
}

// BroadcastRoom queues an event for every connection subscribed to the room.
func (h *Hub) BroadcastRoom(conversationID int64, event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[conversationID] {
		h.enqueueLocked(c, event.Type, payload)
	}
}

// SendToConversation queues an event for the room and for every connection of the
// given participants. Each connection receives it once.
func (h *Hub) SendToConversation(conversationID int64, participantIDs []int64, event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := make(map[string]*Client)
	for id, c := range h.rooms[conversationID] {
		targets[id] = c
	}
	for _, userID := range participantIDs {
		for id, c := range h.byUser[userID] {
			targets[id] = c
		}
	}
	for _, c := range targets {
		h.enqueueLocked(c, event.Type, payload)
	}
}

// BroadcastAll queues an event for every connection except those of exceptUserID.
func (h *Hub) BroadcastAll(event models.Event, exceptUserID int64) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID() != exceptUserID {
			h.enqueueLocked(c, event.Type, payload)
		}
	}
}

// Close unregisters every client. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.removeLocked(c)
	}
	h.closed = true
}

func (h *Hub) encode(event models.Event) ([]byte, bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event.Type), zap.Error(err))
		return nil, false
	}
	return payload, true
}

// enqueueLocked must run under h.mu (read or write) so the queue cannot be closed concurrently.
func (h *Hub) enqueueLocked(c *Client, eventType string, payload []byte) {
	select {
	case c.send <- payload:
	default:
		observability.IncDispatchDropped()
		err := apperrors.Transport(nil, "send queue full")
		h.logger.Warn("dropping event",
			zap.String("event", eventType),
			zap.String("conn_id", c.ID()),
			zap.Int64("user_id", c.UserID()),
			zap.Error(err))
	}
}
