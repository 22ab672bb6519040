package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"convo-service/internal/observability"
)

const RequestIDKey = "request_id"

// RequestID reuses the caller's X-Request-ID or assigns one, and carries it in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
