package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request identifier
	RequestIDKey = "request_id"

	// maxRequestIDLength caps caller-supplied ids before they reach logs and audit rows
	maxRequestIDLength = 128
)

// RequestIDMiddleware ensures every request carries an identifier, echoed back in the
// X-Request-ID response header and stored under RequestIDKey for logging and audit.
//
// An inbound X-Request-ID from a load balancer or DApp is reused when it is short and
// made of printable ASCII. Anything else is replaced with a fresh UUID, since DApp
// callers are untrusted and the id is written verbatim into logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
