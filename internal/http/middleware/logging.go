// README: Request logging and metrics middleware.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"routescc/internal/logging"
	"routescc/internal/observability"
)

func Logging(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		observability.HTTPRequestsTotal.
			WithLabelValues(c.Request.Method, c.FullPath(), strconv.Itoa(status)).
			Inc()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client", c.ClientIP(),
		)
	}
}
