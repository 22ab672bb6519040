package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convo-service/internal/dedup"
	"convo-service/internal/messaging"
	"convo-service/internal/mocks"
	"convo-service/internal/models"
	"convo-service/internal/presence"
	"convo-service/internal/repositories"
	"convo-service/internal/unread"
)

type stubTokens map[string]int64

func (s stubTokens) ValidateToken(_ context.Context, token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid token")
}

type gatewayEnv struct {
	server *httptest.Server
	store  *repositories.MemoryStore
	coord  *messaging.Coordinator
	hub    *Hub
	events *mocks.PublisherMock
}

func newGatewayEnv(t *testing.T, opts ...func(*GatewayConfig)) *gatewayEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := repositories.NewMemoryStore()
	hub := NewHub(logger)
	registry := presence.NewRegistry()
	counter := unread.NewCounter(unread.NewMemoryHints(), store, store, logger)
	rewards := new(mocks.RewardNotifierMock)
	rewards.On("MessageSent", mock.Anything, mock.Anything).Maybe()
	rewards.On("MessagesRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	coord := messaging.NewCoordinator(store, store, hub, counter, rewards, dedup.New(100, time.Minute),
		messaging.Options{MaxContentLength: 100, MaxAttachments: 2}, logger)
	reconciler := messaging.NewReconciler(coord, 10, 5, logger)

	events := new(mocks.PublisherMock)
	events.On("Publish", mock.Anything, lifecycleRoutingKey, mock.Anything).Return(nil).Maybe()

	cfg := GatewayConfig{SendBuffer: 64, WriteTimeout: time.Second, PingInterval: time.Second, MaxMessageBytes: 1 << 16}
	for _, opt := range opts {
		opt(&cfg)
	}
	gateway := NewGateway(hub, registry, coord, reconciler,
		stubTokens{"tok-1": 1, "tok-2": 2, "tok-3": 3}, events, cfg, logger)

	router := gin.New()
	router.GET("/ws", gateway.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		registry.Close()
	})
	return &gatewayEnv{server: server, store: store, coord: coord, hub: hub, events: events}
}

func (e *gatewayEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// next reads frames until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, eventType string) wireFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wireFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", eventType)
		if f.Type == eventType {
			return f
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": frameType, "data": data}))
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	env := newGatewayEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=nope"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGatewayPushesUnreadTotalOnConnect(t *testing.T) {
	env := newGatewayEnv(t)
	conn := env.dial(t, "tok-1")

	f := next(t, conn, models.EventUnreadCountUpdated)
	var payload models.UnreadCountPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Zero(t, payload.TotalCount)
}

func TestGatewaySendIsAcknowledgedWithClientID(t *testing.T) {
	env := newGatewayEnv(t)
	conv, err := env.coord.CreateDirect(context.Background(), 1, 2)
	require.NoError(t, err)

	alice := env.dial(t, "tok-1")
	next(t, alice, models.EventUnreadCountUpdated)
	bob := env.dial(t, "tok-2")
	next(t, bob, models.EventUnreadCountUpdated)

	write(t, alice, FrameMessageSend, map[string]any{"conversationId": conv.ID, "content": "hello", "clientId": "c-1"})

	ack := next(t, alice, models.EventMessageAck)
	var payload models.MessageAckPayload
	require.NoError(t, json.Unmarshal(ack.Data, &payload))
	assert.Equal(t, "c-1", payload.ClientID)
	assert.NotZero(t, payload.Message.ID)
	assert.Equal(t, models.StatusSent, payload.Message.Status)

	incoming := next(t, bob, models.EventMessageNew)
	var view models.MessageView
	require.NoError(t, json.Unmarshal(incoming.Data, &view))
	assert.Equal(t, payload.Message.ID, view.ID)
}

func TestGatewaySendFailureIsReported(t *testing.T) {
	env := newGatewayEnv(t)
	conv, err := env.coord.CreateDirect(context.Background(), 1, 2)
	require.NoError(t, err)

	outsider := env.dial(t, "tok-3")
	write(t, outsider, FrameMessageSend, map[string]any{"conversationId": conv.ID, "content": "let me in", "clientId": "c-9"})

	failed := next(t, outsider, models.EventMessageFailed)
	var payload models.MessageFailedPayload
	require.NoError(t, json.Unmarshal(failed.Data, &payload))
	assert.Equal(t, "c-9", payload.ClientID)
	assert.Equal(t, models.StatusFailed, payload.Status)
	assert.Equal(t, "not a conversation participant", payload.Error)
}

func TestGatewayRejectsMalformedFrames(t *testing.T) {
	env := newGatewayEnv(t)
	conn := env.dial(t, "tok-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := next(t, conn, models.EventError)
	assert.Contains(t, string(f.Data), "validation_error")

	write(t, conn, "message:explode", map[string]any{})
	f = next(t, conn, models.EventError)
	assert.Contains(t, string(f.Data), "unknown frame type")

	write(t, conn, FrameMessageRead, map[string]any{"messageId": 0})
	f = next(t, conn, models.EventError)
	assert.Contains(t, string(f.Data), "validation_error")
}

func TestGatewayReconcilesBacklogOnConnect(t *testing.T) {
	env := newGatewayEnv(t)
	ctx := context.Background()
	conv, err := env.coord.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)
	content := "while you were out"
	msg, err := env.coord.CreateMessage(ctx, messaging.SendInput{ConversationID: conv.ID, SenderID: 1, Content: &content})
	require.NoError(t, err)

	alice := env.dial(t, "tok-1")
	next(t, alice, models.EventUnreadCountUpdated)
	bob := env.dial(t, "tok-2")

	f := next(t, bob, models.EventUnreadCountUpdated)
	var count models.UnreadCountPayload
	require.NoError(t, json.Unmarshal(f.Data, &count))
	assert.Equal(t, 1, count.TotalCount)

	status := next(t, alice, models.EventMessageStatusUpdated)
	var payload models.MessageStatusPayload
	require.NoError(t, json.Unmarshal(status.Data, &payload))
	assert.Equal(t, []int64{msg.ID}, payload.MessageIDs)
	assert.Equal(t, models.StatusDelivered, payload.Status)
}

func TestGatewayRoomJoinSuppressesUnreadAndAnnouncesPresence(t *testing.T) {
	env := newGatewayEnv(t)
	ctx := context.Background()
	conv, err := env.coord.CreateDirect(ctx, 1, 2)
	require.NoError(t, err)

	bob := env.dial(t, "tok-2")
	next(t, bob, models.EventUnreadCountUpdated)
	alice := env.dial(t, "tok-1")
	next(t, alice, models.EventUnreadCountUpdated)
	next(t, bob, models.EventUserOnline)

	write(t, bob, FrameRoomJoin, map[string]any{"conversationId": conv.ID})
	require.Eventually(t, func() bool { return env.hub.IsViewing(2, conv.ID) }, 2*time.Second, 10*time.Millisecond)

	write(t, alice, FrameTypingStart, map[string]any{"conversationId": conv.ID})
	typing := next(t, bob, models.EventTypingUpdate)
	assert.Contains(t, string(typing.Data), `"isTyping":true`)

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	offline := next(t, bob, models.EventUserOffline)
	assert.Contains(t, string(offline.Data), `"userId":1`)
}

func TestGatewayRateLimitsInboundFrames(t *testing.T) {
	env := newGatewayEnv(t, func(cfg *GatewayConfig) {
		cfg.FrameRate = 0.001
		cfg.FrameBurst = 1
	})
	conn := env.dial(t, "tok-1")
	next(t, conn, models.EventUnreadCountUpdated)

	write(t, conn, "message:explode", map[string]any{})
	f := next(t, conn, models.EventError)
	assert.Contains(t, string(f.Data), "unknown frame type")

	write(t, conn, "message:explode", map[string]any{})
	f = next(t, conn, models.EventError)
	assert.Contains(t, string(f.Data), "rate limit exceeded")
}
