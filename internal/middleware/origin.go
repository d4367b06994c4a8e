package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// OriginHostKey is the gin.Context key holding the normalized host a DApp request came from
const OriginHostKey = "origin_host"

// OriginMiddleware resolves the calling DApp's host from the Origin header, falling back
// to Referer. Requests carrying neither are rejected before reaching a handler; whether
// the host matches the connection is decided by the relay.
func OriginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		host := relay.OriginHost(c.GetHeader("Origin"), c.GetHeader("Referer"))
		if host == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "request origin is missing",
				"kind":  string(relay.KindAuthorization),
			})
			return
		}
		c.Set(OriginHostKey, host)
		c.Next()
	}
}

// OriginHost returns the host resolved by OriginMiddleware
func OriginHost(c *gin.Context) string {
	return c.GetString(OriginHostKey)
}
