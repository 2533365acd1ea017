package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event type constants for client messages
const (
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeEvent     = "event"
	MessageTypeConnected = "connected"
)

// Handler upgrades requests to websocket connections attached to the hub.
type Handler struct {
	log            *zap.SugaredLogger
	hub            *Hub
	pingInterval   time.Duration
	writeTimeout   time.Duration
	allowedOrigins []string
	isDevelopment  bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, serverCfg *config.ServerConfig) *Handler {
	return &Handler{
		log:            logger.GetLogger().Named("websocket_handler"),
		hub:            hub,
		pingInterval:   hub.pingInterval,
		writeTimeout:   hub.writeTimeout,
		allowedOrigins: serverCfg.AllowedOrigins,
		isDevelopment:  serverCfg.Environment == config.EnvDevelopment,
	}
}

// getAcceptOptions allows every origin in development and only the
// configured origins otherwise.
func (h *Handler) getAcceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}

	if h.isDevelopment || containsWildcard(h.allowedOrigins) {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}

	return opts
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// ClientMessage represents a message from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HandleWebSocket handles the websocket upgrade and connection lifecycle.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, h.getAcceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	connection := h.hub.Register(conn)
	defer h.hub.Unregister(connection.ID)

	if err := h.sendMessage(ctx, conn, ServerMessage{
		Type: MessageTypeConnected,
		Payload: map[string]interface{}{
			"connectionId": connection.ID,
			"channel":      h.hub.channel,
		},
	}); err != nil {
		h.log.Errorw("Failed to send connected message",
			"connectionID", connection.ID,
			"error", err)
		return
	}

	errCh := make(chan error, 3)
	go func() { errCh <- h.readLoop(ctx, conn) }()
	go func() { errCh <- h.writeLoop(ctx, conn, connection) }()
	go func() { errCh <- h.pingLoop(ctx, conn) }()

	err = <-errCh
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		h.log.Debugw("WebSocket connection ended",
			"connectionID", connection.ID,
			"error", err)
	}
}

// readLoop handles incoming messages from the client.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Type == MessageTypePing {
			_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypePong})
		}
	}
}

// writeLoop sends hub events to the client.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connection *Connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-connection.SendChannel():
			if !ok {
				return nil
			}
			if err := h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypeEvent, Payload: env}); err != nil {
				return err
			}
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Handler) sendMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
