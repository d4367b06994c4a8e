package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records request count and latency for
// every request that passes through the router.
//
// The path label is the matched route template from c.FullPath(), for example
// /api/v1/dapp/transactions/:id/status, never the raw URL, so transaction ids do not
// inflate label cardinality. Unmatched requests (404/405) use "<no-route>".
//
// skipPaths lists route templates that are not recorded, typically the probe endpoints
// polled by the orchestrator.
func MetricsMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		if _, ok := skip[path]; ok {
			return
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
