package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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
	"convo-service/internal/ws"
)

func newCoordinator(conversations repositories.ConversationRepository, messages repositories.MessageRepository, counts unread.Counts, memberships unread.Memberships) *messaging.Coordinator {
	logger := zap.NewNop()
	rewards := new(mocks.RewardNotifierMock)
	rewards.On("MessageSent", mock.Anything, mock.Anything).Maybe()
	rewards.On("MessagesRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	counter := unread.NewCounter(unread.NewMemoryHints(), counts, memberships, logger)
	return messaging.NewCoordinator(conversations, messages, ws.NewHub(logger), counter, rewards,
		dedup.New(100, time.Minute), messaging.Options{MaxContentLength: 100, MaxAttachments: 3}, logger)
}

func setupRouter(coordinator *messaging.Coordinator, registry *presence.Registry, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	conversations := NewConversationHandler(coordinator, logger)
	messages := NewMessageHandler(coordinator, logger)
	presenceHandler := NewPresenceHandler(registry)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.POST("/conversations/direct", conversations.CreateDirect)
	r.POST("/conversations/group", conversations.CreateGroup)
	r.GET("/conversations", conversations.ListConversations)
	r.DELETE("/conversations/:id/me", conversations.HideConversation)
	r.GET("/conversations/:id/messages", conversations.ListMessages)
	r.POST("/conversations/:id/messages", conversations.PostMessage)
	r.POST("/conversations/:id/read", conversations.MarkRead)
	r.GET("/conversations/:id/unread", conversations.UnreadCount)
	r.GET("/unread", conversations.TotalUnread)
	r.POST("/messages/:id/delivered", messages.MarkDelivered)
	r.POST("/messages/:id/read", messages.MarkRead)
	r.PATCH("/messages/:id", messages.EditMessage)
	r.GET("/users/:id/presence", presenceHandler.GetPresence)
	return r
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestConversationFlow(t *testing.T) {
	store := repositories.NewMemoryStore()
	coordinator := newCoordinator(store, store, store, store)
	alice := setupRouter(coordinator, presence.NewRegistry(), 1)
	bob := setupRouter(coordinator, presence.NewRegistry(), 2)

	rec := do(t, alice, http.MethodPost, "/conversations/direct", `{"user_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decodeBody(t, rec)["conversation"].(map[string]any)
	convPath := "/conversations/" + jsonNumber(conv["id"])

	rec = do(t, alice, http.MethodPost, convPath+"/messages", `{"content":"hi","client_id":"tmp-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, "tmp-1", created["client_id"])
	message := created["message"].(map[string]any)
	assert.Equal(t, models.StatusSent, message["status"])
	messagePath := "/messages/" + jsonNumber(message["id"])

	rec = do(t, bob, http.MethodGet, convPath+"/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = do(t, alice, http.MethodPost, messagePath+"/read", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cannot update own message status", decodeBody(t, rec)["error"])

	rec = do(t, bob, http.MethodPost, messagePath+"/delivered", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, bob, http.MethodPost, convPath+"/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["updated"])

	rec = do(t, alice, http.MethodGet, convPath+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusRead, history[0].(map[string]any)["status"])

	rec = do(t, bob, http.MethodGet, "/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["total"])

	rec = do(t, alice, http.MethodPatch, messagePath, `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["message"].(map[string]any)["edited"])

	rec = do(t, bob, http.MethodDelete, convPath+"/me", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, bob, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["conversations"])
}

func TestCreateGroupValidation(t *testing.T) {
	store := repositories.NewMemoryStore()
	router := setupRouter(newCoordinator(store, store, store, store), presence.NewRegistry(), 1)

	rec := do(t, router, http.MethodPost, "/conversations/group", `{"name":"g"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/conversations/group", `{"name":"g","member_ids":[1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/conversations/group", `{"name":"g","member_ids":[2,3,3]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decodeBody(t, rec)["conversation"].(map[string]any)
	assert.Equal(t, string(models.KindGroup), conv["kind"])
}

func TestInvalidIDs(t *testing.T) {
	store := repositories.NewMemoryStore()
	router := setupRouter(newCoordinator(store, store, store, store), presence.NewRegistry(), 1)

	for _, path := range []string{"/conversations/abc/messages", "/conversations/0/unread", "/users/x/presence"} {
		rec := do(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec := do(t, router, http.MethodGet, "/conversations/1/messages?before=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotFoundAndForbidden(t *testing.T) {
	store := repositories.NewMemoryStore()
	coordinator := newCoordinator(store, store, store, store)
	conv, err := coordinator.CreateDirect(context.Background(), 1, 2)
	require.NoError(t, err)
	outsider := setupRouter(coordinator, presence.NewRegistry(), 3)

	rec := do(t, outsider, http.MethodGet, "/conversations/999/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, outsider, http.MethodPost, "/conversations/"+strconv.FormatInt(conv.ID, 10)+"/messages", `{"content":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStoreFailureIsInternal(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	coordinator := newCoordinator(conversations, messages, messages, conversations)
	router := setupRouter(coordinator, presence.NewRegistry(), 1)

	conversations.On("ListForUser", mock.Anything, int64(1)).Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	rec := do(t, router, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody(t, rec)["error"])
	conversations.AssertExpectations(t)
}

func TestPostMessageStoreFailure(t *testing.T) {
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	coordinator := newCoordinator(conversations, messages, messages, conversations)
	router := setupRouter(coordinator, presence.NewRegistry(), 1)

	conversations.On("GetConversation", mock.Anything, int64(5)).Return(models.Conversation{ID: 5, Kind: models.KindDirect}, nil).Once()
	conversations.On("ListParticipants", mock.Anything, int64(5)).Return([]models.Participant{{ConversationID: 5, UserID: 1}, {ConversationID: 5, UserID: 2}}, nil).Once()
	messages.On("CreateMessage", mock.Anything, mock.AnythingOfType("models.Message")).Return(nil, assert.AnError).Once()

	rec := do(t, router, http.MethodPost, "/conversations/5/messages", `{"content":"x"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	conversations.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func TestGetPresence(t *testing.T) {
	store := repositories.NewMemoryStore()
	registry := presence.NewRegistry()
	registry.Connect(7, "conn-a")
	router := setupRouter(newCoordinator(store, store, store, store), registry, 1)

	rec := do(t, router, http.MethodGet, "/users/7/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["is_online"])

	rec = do(t, router, http.MethodGet, "/users/8/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["is_online"])
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conversations := new(mocks.ConversationRepositoryMock)
	router := gin.New()
	router.GET("/healthz", Healthz(conversations))

	conversations.On("Ping", mock.Anything).Return(nil).Once()
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/healthz", "").Code)

	conversations.On("Ping", mock.Anything).Return(assert.AnError).Once()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/healthz", "").Code)
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(zap.NewNop())
	registry := presence.NewRegistry()
	registry.Connect(4, "conn-1")

	disabled := gin.New()
	RegisterDebugRoutes(disabled, hub, registry, false)
	assert.Equal(t, http.StatusNotFound, do(t, disabled, http.MethodGet, "/debug/connections", "").Code)

	enabled := gin.New()
	RegisterDebugRoutes(enabled, hub, registry, true)
	rec := do(t, enabled, http.MethodGet, "/debug/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(4)}, decodeBody(t, rec)["online_users"])
}

func jsonNumber(v any) string {
	return strconv.FormatInt(int64(v.(float64)), 10)
}
