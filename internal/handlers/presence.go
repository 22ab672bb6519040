package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convo-service/internal/presence"
)

// PresenceHandler answers presence queries.
type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.registry.Query(userID))
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Healthz reports liveness of the store.
func Healthz(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
