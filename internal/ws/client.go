package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collab-sync-server/auth"
	"collab-sync-server/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB, CRDT updates are deltas
	openTimeout    = 10 * time.Second
)

// Client is one websocket connection. The read pump dispatches frames
// sequentially, so updates from a single connection reach the registry in
// submission order.
type Client struct {
	connID   string
	identity *auth.Identity

	hub      *Hub
	registry *session.Registry
	conn     *websocket.Conn
	send     chan []byte
	log      zerolog.Logger

	// sessionID the connection is currently attached to, empty when none.
	// Only touched from the read pump.
	sessionID string
}

func (c *Client) readPump() {
	defer func() {
		if c.sessionID != "" {
			c.registry.Detach(c.sessionID, c.connID)
		}
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("connection_id", c.connID).Msg("websocket closed unexpectedly")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("Malformed message")
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case TypeOpen:
		c.handleOpen(msg)
	case TypeAttach:
		c.handleAttach(msg)
	case TypeUpdate:
		c.handleUpdate(msg)
	case TypeAwareness:
		c.handleAwareness(msg)
	case TypeLeave:
		c.handleLeave(msg)
	default:
		c.sendError("Unknown message type")
	}
}

func (c *Client) handleOpen(msg *Message) {
	if msg.DocumentID == 0 {
		c.sendError("document_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	res, err := c.registry.Open(ctx, msg.DocumentID, c.identity.UserID)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.enqueue(Message{
		Type:      TypeOpenOK,
		SessionID: res.SessionID,
		Role:      string(res.Role),
	})
}

func (c *Client) handleAttach(msg *Message) {
	if msg.SessionID == "" {
		c.sendError("session_id is required")
		return
	}
	if c.sessionID != "" && c.sessionID != msg.SessionID {
		// a connection belongs to at most one session at a time
		c.registry.Detach(c.sessionID, c.connID)
		c.sessionID = ""
	}

	res, err := c.registry.Attach(msg.SessionID, c.connID, c.identity.UserID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sessionID = msg.SessionID

	c.enqueue(Message{
		Type:      TypeState,
		SessionID: msg.SessionID,
		Role:      string(res.Role),
		Binary:    encodeBinary(res.FullState),
		Awareness: encodeBinary(res.Awareness),
	})
}

func (c *Client) handleUpdate(msg *Message) {
	if c.sessionID == "" {
		c.sendError("Not attached to a session")
		return
	}
	update, err := msg.DecodeBinary()
	if err != nil {
		c.sendError("Invalid update encoding")
		return
	}

	if err := c.registry.SubmitUpdate(c.sessionID, c.connID, update); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleAwareness(msg *Message) {
	if c.sessionID == "" {
		c.sendError("Not attached to a session")
		return
	}
	update, err := msg.DecodeBinary()
	if err != nil {
		c.sendError("Invalid awareness encoding")
		return
	}

	if err := c.registry.SubmitAwareness(c.sessionID, c.connID, update); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleLeave(msg *Message) {
	if c.sessionID == "" {
		return
	}
	c.registry.Detach(c.sessionID, c.connID)
	c.sessionID = ""
}

func (c *Client) sendError(message string) {
	c.enqueue(Message{Type: TypeError, Error: message})
}

func (c *Client) enqueue(msg Message) {
	select {
	case c.send <- marshalMessage(msg):
	default:
		c.log.Warn().Str("connection_id", c.connID).Msg("send buffer full, dropping frame")
	}
}
