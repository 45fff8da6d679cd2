package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextRequestID is the gin context key holding the request id.
const ContextRequestID = "requestId"

// RequestID assigns every request an id and echoes it on the response.
// An inbound x-request-id is honored so callers can correlate retries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header("x-request-id", id)
		c.Next()
	}
}

// GetRequestID reads the request id assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}
