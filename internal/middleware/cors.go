package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader}
	corsExposeHeaders = []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
)

// CORSMiddleware applies two CORS policies. Owner routes accept only the configured
// platform origins. Routes under dappPrefix accept any origin: browsers must be able to
// reach them from third-party DApps, and the relay checks the origin against the
// connection on every call.
//
// It must be registered on the engine, not a group, so preflight requests to routes
// without an OPTIONS handler are still answered.
func CORSMiddleware(allowedOrigins []string, dappPrefix string) gin.HandlerFunc {
	owner := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		owner.AllowAllOrigins = true
	} else {
		owner.AllowOrigins = allowedOrigins
	}
	owner.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	owner.AllowHeaders = corsAllowHeaders
	owner.ExposeHeaders = corsExposeHeaders
	owner.MaxAge = 12 * time.Hour

	dapp := cors.DefaultConfig()
	dapp.AllowAllOrigins = true
	dapp.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	dapp.AllowHeaders = corsAllowHeaders
	dapp.ExposeHeaders = corsExposeHeaders
	dapp.MaxAge = 12 * time.Hour

	ownerHandler := cors.New(owner)
	dappHandler := cors.New(dapp)

	return func(c *gin.Context) {
		if dappPrefix != "" && strings.HasPrefix(c.Request.URL.Path, dappPrefix) {
			dappHandler(c)
			return
		}
		ownerHandler(c)
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
