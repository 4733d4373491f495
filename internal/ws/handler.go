package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"collab-sync-server/auth"
	"collab-sync-server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the JWT on the upgrade request is the access control; cross-origin
	// browser clients are expected
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub      *Hub
	registry *session.Registry
	log      zerolog.Logger
}

func NewHandler(hub *Hub, registry *session.Registry, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, registry: registry, log: log}
}

// Serve upgrades the connection and starts the read/write pumps. Requires
// auth.AuthMiddleware upstream.
func (h *Handler) Serve(c *gin.Context) {
	rawIdentity, ok := c.Get(auth.IdentityKey)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	identity := rawIdentity.(*auth.Identity)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		connID:   ulid.Make().String(),
		identity: identity,
		hub:      h.hub,
		registry: h.registry,
		conn:     conn,
		send:     make(chan []byte, 256),
		log:      h.log,
	}

	h.hub.register(client)
	h.log.Info().
		Str("connection_id", client.connID).
		Uint64("user_id", identity.UserID).
		Msg("websocket connected")

	go client.writePump()
	go client.readPump()
}
