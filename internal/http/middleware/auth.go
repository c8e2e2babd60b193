// README: Access-key auth middleware for the operator surface.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routescc/internal/auth"
)

const keyHeader = "X-Access-Key"

// AccessKey rejects requests that do not carry a valid access key in the
// X-Access-Key header (or a "key" query parameter for browser use).
func AccessKey(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(keyHeader)
		if key == "" {
			key = c.Query("key")
		}
		ok, err := svc.Authenticate(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}
		c.Next()
	}
}
