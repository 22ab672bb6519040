package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"convo-service/internal/presence"
	"convo-service/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, hub *ws.Hub, registry *presence.Registry, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/connections", func(c *gin.Context) {
		users := registry.OnlineUsers()
		connections := make(map[int64]int, len(users))
		for _, id := range users {
			connections[id] = hub.Connections(id)
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":   requestIDFromContext(c),
			"online_users": users,
			"connections":  connections,
		})
	})
}
