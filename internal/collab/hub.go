package collab

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// outbound is one queued event for a connection's writer.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is the server-side handle for one websocket connection.
type client struct {
	id string

	mu     sync.Mutex
	userID string

	send      chan outbound // drained by the connection's writer goroutine
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, buffer int) *client {
	return &client{
		id:   id,
		send: make(chan outbound, buffer),
		done: make(chan struct{}),
	}
}

// emit queues an event for delivery; a full buffer drops the event
// rather than blocking the handler.
func (c *client) emit(event string, data any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- outbound{Event: event, Data: data}:
	default:
		log.Debug().Str("conn", c.id).Str("event", event).Msg("send buffer full, dropping event")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *client) setUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// Hub tracks live connections and room multicast groups.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client            // connID -> client
	rooms   map[string]map[string]*client // roomID -> connID -> client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// unregister removes a connection from the hub and every room group,
// returning the room ids it belonged to for presence cleanup.
func (h *Hub) unregister(c *client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.id)

	var roomIDs []string
	for roomID, group := range h.rooms {
		if _, ok := group[c.id]; ok {
			delete(group, c.id)
			roomIDs = append(roomIDs, roomID)
			if len(group) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	return roomIDs
}

func (h *Hub) join(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[string]*client)
		h.rooms[roomID] = group
	}
	group[c.id] = c
}

func (h *Hub) leave(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(group, c.id)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
}

// broadcast queues an event on every connection in a room.
func (h *Hub) broadcast(roomID, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.rooms[roomID] {
		c.emit(event, data)
	}
}

// broadcastExcept queues an event on every room connection but the
// sender's.
func (h *Hub) broadcastExcept(roomID, exceptConnID, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		c.emit(event, data)
	}
}

// userClients returns every live connection belonging to a user. One
// user with two connections yields two entries.
func (h *Hub) userClients(userID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*client
	for _, c := range h.clients {
		if c.user() == userID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
