package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
)

// RequestLog emits one structured line per handled request. Websocket
// upgrades are skipped because the connection outlives the handler and
// a duration line for it would be noise.
func RequestLog(logger *logging.StandardLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// Route pattern keeps ID cardinality out of the logs; raw path
		// only for unmatched requests.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			c.ClientIP(),
		)
	}
}
