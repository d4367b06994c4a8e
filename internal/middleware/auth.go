// Package middleware provides Gin HTTP middleware for the relay: user authentication on
// owner routes, origin extraction on DApp routes, rate limiting, security headers,
// request ids, metrics, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → Logger → Auth | Origin → RateLimit → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs after the caller is identified so owner routes are limited per user
// and DApp routes per origin host.
// Audit logging runs last so only requests that passed authentication are recorded.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/auth"
)

const (
	// UserIDKey is the gin.Context key holding the authenticated platform user id
	UserIDKey = "user_id"
	// AuthMethodKey records how the caller authenticated
	AuthMethodKey = "auth_method"
)

// UserTokenVerifier validates platform user JWTs
type UserTokenVerifier interface {
	Validate(tokenString string) (*auth.UserClaims, error)
}

// AuthMiddleware requires a valid platform user JWT on owner routes and stores the
// user id in the context.
func AuthMiddleware(tokens UserTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(AuthMethodKey, "jwt")
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside authenticated routes
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
