package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convo-service/internal/messaging"
)

// ConversationHandler serves conversation, history and unread endpoints.
type ConversationHandler struct {
	coordinator *messaging.Coordinator
	logger      *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(coordinator *messaging.Coordinator, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{coordinator: coordinator, logger: logger}
}

// CreateDirect creates or returns the direct conversation with another user.
func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.coordinator.CreateDirect(c.Request.Context(), userIDFromContext(c), req.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// CreateGroup creates a group conversation owned by the caller.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string  `json:"name" binding:"required"`
		AvatarURL string  `json:"avatar_url"`
		MemberIDs []int64 `json:"member_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.coordinator.CreateGroup(c.Request.Context(), userIDFromContext(c), req.Name, req.AvatarURL, req.MemberIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// ListConversations returns the caller's visible conversations with unread counts.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.coordinator.ListConversations(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// HideConversation hides a conversation for the caller only.
func (h *ConversationHandler) HideConversation(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.coordinator.HideConversation(c.Request.Context(), convID, userIDFromContext(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns a page of history. before is an exclusive message id cursor.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		return
	}
	before, err := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
	if err != nil || before < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	msgs, err := h.coordinator.ListMessages(c.Request.Context(), convID, userIDFromContext(c), before, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage creates a message. client_id is echoed back for the two-phase handoff.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content     *string  `json:"content"`
		Attachments []string `json:"attachments"`
		ClientID    string   `json:"client_id" binding:"max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := userIDFromContext(c)
	msg, err := h.coordinator.CreateMessage(c.Request.Context(), messaging.SendInput{
		ConversationID: convID,
		SenderID:       userID,
		Content:        req.Content,
		Attachments:    req.Attachments,
		ClientID:       req.ClientID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"client_id": req.ClientID, "message": msg.ViewFor(userID)})
}

// MarkRead marks the conversation read up to up_to, or up to now.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		UpTo *time.Time `json:"up_to"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var upTo time.Time
	if req.UpTo != nil {
		upTo = *req.UpTo
	}

	n, err := h.coordinator.MarkConversationRead(c.Request.Context(), convID, userIDFromContext(c), upTo)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// UnreadCount returns the authoritative unread count of one conversation.
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.coordinator.UnreadCount(c.Request.Context(), convID, userIDFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "count": n})
}

// TotalUnread returns every unread count of the caller and their sum.
func (h *ConversationHandler) TotalUnread(c *gin.Context) {
	counts, total, err := h.coordinator.UnreadCounts(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	byConversation := make(map[string]int, len(counts))
	for id, n := range counts {
		byConversation[strconv.FormatInt(id, 10)] = n
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "conversations": byConversation})
}
