package ws

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks every live websocket client by connection id and is the
// broadcast.Sender the sync broadcaster fans out through. Sends are
// non-blocking: a client whose send buffer is full is skipped, it will
// catch up from the full-state fetch on its next attach.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	h.mu.Unlock()
}

// unregister removes the client and closes its send channel. Closing under
// the exclusive lock, while fan-out sends hold the read lock, is what makes
// a send never race the close.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.connID] == c {
		delete(h.clients, c.connID)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) send(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c := h.clients[connID]
	if c == nil {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) SendUpdate(connID string, update []byte) bool {
	return h.send(connID, marshalMessage(Message{
		Type:   TypeUpdate,
		Binary: encodeBinary(update),
	}))
}

func (h *Hub) SendAwareness(connID string, update []byte) bool {
	return h.send(connID, marshalMessage(Message{
		Type:   TypeAwareness,
		Binary: encodeBinary(update),
	}))
}
