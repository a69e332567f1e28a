package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadOnlyGuard rejects unsafe methods for tokens flagged read_only
// (reporting and audit integrations).
func ReadOnlyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(CtxReadOnly) {
			switch c.Request.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "read-only token"})
				return
			}
		}
		c.Next()
	}
}
