package http

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// accessLog tags each request with an id and logs method, path, status
// and duration. Request bodies and response payloads are never logged.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set("request_id", id)
		start := time.Now()

		c.Next()

		log.Printf("req=%s %s %s status=%d dur=%s",
			id, c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Truncate(time.Millisecond))
	}
}
