package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeSubscriber struct {
	ch  chan broadcast.Envelope
	err error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string) (<-chan broadcast.Envelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func testEnvelope(msg string) broadcast.Envelope {
	return broadcast.Envelope{
		Channel: "chat-room",
		Event:   "message",
		Data:    json.RawMessage(`{"message":"` + msg + `"}`),
		SentAt:  time.Now().UTC(),
	}
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub(nil, "chat-room")

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.connections)
	assert.Equal(t, 0, hub.GetConnectionCount())
}

func TestHub_RegisterDispatchUnregister(t *testing.T) {
	hub := NewHub(nil, "chat-room")

	a := hub.Register(nil)
	b := hub.Register(nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, hub.GetConnectionCount())

	hub.Dispatch(testEnvelope("hi"))

	for _, c := range []*Connection{a, b} {
		select {
		case env := <-c.SendChannel():
			assert.Equal(t, "message", env.Event)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}

	hub.Unregister(a.ID)
	assert.True(t, a.IsClosed())
	assert.Equal(t, 1, hub.GetConnectionCount())

	// Unknown ids are ignored
	hub.Unregister("missing")
}

func TestHub_DispatchDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, "chat-room", HubConfig{PingInterval: time.Second, WriteTimeout: time.Second, ReadTimeout: time.Second, SendBuffer: 1})
	c := hub.Register(nil)

	hub.Dispatch(testEnvelope("one"))
	hub.Dispatch(testEnvelope("two"))

	assert.Len(t, c.sendCh, 1)
}

func TestHub_RunForwardsSubscription(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan broadcast.Envelope, 1)}
	hub := NewHub(sub, "chat-room")
	c := hub.Register(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	sub.ch <- testEnvelope("from redis")

	select {
	case env := <-c.SendChannel():
		assert.JSONEq(t, `{"message":"from redis"}`, string(env.Data))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestHub_RunSubscribeError(t *testing.T) {
	hub := NewHub(&fakeSubscriber{err: errors.New("redis down")}, "chat-room")
	assert.Error(t, hub.Run(context.Background()))
}

func TestHub_Shutdown(t *testing.T) {
	hub := NewHub(nil, "chat-room")
	c := hub.Register(nil)

	done := make(chan error, 1)
	go func() { done <- hub.Run(context.Background()) }()

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.True(t, c.IsClosed())
	assert.Equal(t, 0, hub.GetConnectionCount())
	assert.NoError(t, <-done)

	// Second shutdown is a no-op
	assert.NoError(t, hub.Shutdown(context.Background()))
}

func TestDefaultHubConfig(t *testing.T) {
	config := DefaultHubConfig()

	assert.Equal(t, 30*time.Second, config.PingInterval)
	assert.Equal(t, 10*time.Second, config.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.ReadTimeout)
	assert.Equal(t, 256, config.SendBuffer)
}

func TestHandler_DeliversBroadcasts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, "chat-room")
	handler := NewHandler(hub, &config.ServerConfig{Environment: config.EnvDevelopment})

	r := gin.New()
	r.GET("/chat/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var connected ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &connected))
	assert.Equal(t, MessageTypeConnected, connected.Type)
	assert.Equal(t, 1, hub.GetConnectionCount())

	hub.Dispatch(testEnvelope("hello"))

	var msg struct {
		Type    string             `json:"type"`
		Payload broadcast.Envelope `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.JSONEq(t, `{"message":"hello"}`, string(msg.Payload.Data))

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: MessageTypePing}))
	var pong ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, MessageTypePong, pong.Type)
}

func TestGetAcceptOptions(t *testing.T) {
	hub := NewHub(nil, "chat-room")

	dev := NewHandler(hub, &config.ServerConfig{Environment: config.EnvDevelopment})
	assert.True(t, dev.getAcceptOptions().InsecureSkipVerify)

	prod := NewHandler(hub, &config.ServerConfig{
		Environment:    config.EnvProduction,
		AllowedOrigins: []string{"chat.example.com"},
	})
	opts := prod.getAcceptOptions()
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, []string{"chat.example.com"}, opts.OriginPatterns)
}
