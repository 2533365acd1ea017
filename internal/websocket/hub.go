package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Hub fans chat-room broadcasts out to every connected websocket client.
type Hub struct {
	log          *zap.SugaredLogger
	subscriber   broadcast.Subscriber
	channel      string
	connections  map[string]*Connection // connection id -> connection
	mu           sync.RWMutex
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration
	sendBuffer   int
}

// Connection represents a single websocket client.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	sendCh chan broadcast.Envelope
	mu     sync.Mutex
	closed bool
}

// HubConfig contains configuration options for the Hub.
type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
}

// DefaultHubConfig returns sensible defaults for Hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		SendBuffer:   256,
	}
}

// NewHub creates a hub for channel. A nil subscriber leaves the hub idle;
// events can still be pushed with Dispatch.
func NewHub(subscriber broadcast.Subscriber, channel string, cfg ...HubConfig) *Hub {
	config := DefaultHubConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}

	return &Hub{
		log:          logger.GetLogger().Named("websocket_hub"),
		subscriber:   subscriber,
		channel:      channel,
		connections:  make(map[string]*Connection),
		shutdownCh:   make(chan struct{}),
		pingInterval: config.PingInterval,
		writeTimeout: config.WriteTimeout,
		readTimeout:  config.ReadTimeout,
		sendBuffer:   config.SendBuffer,
	}
}

// Run consumes the broadcast subscription until ctx is done, the hub shuts
// down or the subscription closes.
func (h *Hub) Run(ctx context.Context) error {
	if h.subscriber == nil {
		h.log.Infow("No broadcast subscriber configured, hub idle", "channel", h.channel)
		select {
		case <-ctx.Done():
		case <-h.shutdownCh:
		}
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := h.subscriber.Subscribe(subCtx, h.channel)
	if err != nil {
		return err
	}
	h.log.Infow("Hub subscribed", "channel", h.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.shutdownCh:
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			h.Dispatch(env)
		}
	}
}

// Register adds a websocket connection and returns its handle.
func (h *Hub) Register(conn *websocket.Conn) *Connection {
	connection := &Connection{
		ID:     uuid.NewString(),
		Conn:   conn,
		sendCh: make(chan broadcast.Envelope, h.sendBuffer),
	}

	h.mu.Lock()
	h.connections[connection.ID] = connection
	count := len(h.connections)
	h.mu.Unlock()

	h.log.Infow("WebSocket connection registered",
		"connectionID", connection.ID,
		"connections", count)
	return connection
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	conn, ok := h.connections[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, id)
	h.mu.Unlock()

	h.closeConnection(conn, "unregistered")
}

// closeConnection closes a connection and cleans up resources.
func (h *Hub) closeConnection(conn *Connection, reason string) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	close(conn.sendCh)
	conn.mu.Unlock()

	if conn.Conn != nil {
		_ = conn.Conn.Close(websocket.StatusNormalClosure, reason)
	}

	h.log.Infow("WebSocket connection closed",
		"connectionID", conn.ID,
		"reason", reason)
}

// Dispatch queues env on every open connection. Slow clients drop events.
func (h *Hub) Dispatch(env broadcast.Envelope) {
	h.mu.RLock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.RUnlock()

	for _, conn := range connections {
		conn.mu.Lock()
		if conn.closed {
			conn.mu.Unlock()
			continue
		}
		select {
		case conn.sendCh <- env:
		default:
			h.log.Warnw("Connection send buffer full, dropping event",
				"connectionID", conn.ID,
				"event", env.Event)
		}
		conn.mu.Unlock()
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every connection and stops Run.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		close(h.shutdownCh)

		h.mu.Lock()
		connections := make([]*Connection, 0, len(h.connections))
		for _, conn := range h.connections {
			connections = append(connections, conn)
		}
		h.connections = make(map[string]*Connection)
		h.mu.Unlock()

		for _, conn := range connections {
			h.closeConnection(conn, "server shutdown")
		}
	})

	h.log.Info("WebSocket hub shutdown complete")
	return nil
}

// SendChannel returns the outbound event channel of a connection.
func (c *Connection) SendChannel() <-chan broadcast.Envelope {
	return c.sendCh
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
