package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID tags each request with an id, reusing the caller's when present.
func RequestID(c *gin.Context) {
	id := c.Request.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDKey, id)
	c.Writer.Header().Set(RequestIDHeader, id)
	c.Next()
}
