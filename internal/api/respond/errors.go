// Package respond renders relay results and errors as JSON for the HTTP handlers. It is
// the single place where relay error kinds become HTTP status codes.
package respond

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// internalMessage is shown for every error the relay did not classify
const internalMessage = "Internal server error"

// StatusFor returns the HTTP status for a relay error
func StatusFor(err error) int {
	switch relay.KindOf(err) {
	case relay.KindValidation, relay.KindStateConflict, relay.KindExpired:
		return http.StatusBadRequest
	case relay.KindAuthorization:
		return http.StatusForbidden
	case relay.KindNotFound:
		return http.StatusNotFound
	case relay.KindUpstreamSigner:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error", "kind"} and aborts the request. Only the relay's own
// message is exposed; causes are logged.
func Error(c *gin.Context, err error) {
	status := StatusFor(err)
	kind := relay.KindOf(err)

	message := internalMessage
	var re *relay.Error
	if errors.As(err, &re) && kind != relay.KindInternal {
		message = re.Message
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"kind", string(kind),
			"request_id", c.GetString("request_id"),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"kind":  string(kind),
	})
}

// BadRequest writes a validation error for a malformed request body or query
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": message,
		"kind":  string(relay.KindValidation),
	})
}

// Unauthorized is written when an owner route is reached without a user id
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "User not authenticated",
	})
}
