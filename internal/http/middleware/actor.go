// README: Tags each request context with the requester identity for auditing.
package middleware

import (
	"github.com/gin-gonic/gin"

	"routescc/internal/modules/matching"
)

// Actor records the client address on the request context so engine
// operations can attribute their audit entries.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := matching.WithActor(c.Request.Context(), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
