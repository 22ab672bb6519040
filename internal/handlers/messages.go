package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convo-service/internal/messaging"
)

// MessageHandler serves per-message status and edit endpoints.
type MessageHandler struct {
	coordinator *messaging.Coordinator
	logger      *zap.Logger
}

func NewMessageHandler(coordinator *messaging.Coordinator, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{coordinator: coordinator, logger: logger}
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	messageID, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID := userIDFromContext(c)
	msg, err := h.coordinator.MarkDelivered(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg.ViewFor(userID)})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID := userIDFromContext(c)
	msg, err := h.coordinator.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg.ViewFor(userID)})
}

// EditMessage replaces the content of the caller's own message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := userIDFromContext(c)
	msg, err := h.coordinator.EditMessage(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg.ViewFor(userID)})
}
