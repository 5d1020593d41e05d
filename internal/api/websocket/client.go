package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first (auth) message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is not checked; clients authenticate with their first message.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	logger    *zap.Logger
	principal *auth.Principal
}

// clientMessage is what dashboards send to the server.
type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// authenticate reads the first message, which must be {"type":"auth","token":...}.
func (c *Client) authenticate() (*auth.Principal, string) {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var msg clientMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, "First message must be authentication"
	}
	if msg.Type != "auth" {
		return nil, "First message must be authentication"
	}
	if msg.Token == "" {
		return nil, "Missing token in auth message"
	}

	principal, err := c.hub.authService.ValidateToken(context.Background(), msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		return nil, "Invalid or expired token"
	}
	return principal, ""
}

// readPump authenticates the client, hands it to the hub and then drains
// incoming frames until the connection goes away.
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.remove(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	principal, reason := c.authenticate()
	if principal == nil {
		// writePump is not running yet, so writing here is safe.
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteJSON(map[string]any{
			"type":      MessageTypeAuthFailed,
			"timestamp": time.Now(),
			"reason":    reason,
		})
		return
	}
	c.principal = principal

	// Queued before registering so it is always the first frame.
	c.send <- mustMarshal(map[string]any{
		"type":        MessageTypeAuthSuccess,
		"timestamp":   time.Now(),
		"permissions": principal.Permissions,
	})
	if !c.hub.add(c) {
		return
	}
	registered = true
	go c.writePump()

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("username", principal.Username))

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.readPump()
}
