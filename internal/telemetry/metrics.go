// Package telemetry provides application-level observability for the DApp relay.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served by the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<DRL_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so DApps can never
// reach it through the public ingress.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Signing request creation, state transitions and auto-approvals
//   - Wallet signer call latency and failures
//   - Connection lifecycle operations
//   - Database connection pool gauges
//
// # Label Cardinality
//
// No metric is labelled with a connection key, transaction id or DApp domain. Those are
// unbounded and belong in logs and the audit trail.
package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deabakjj/MYCREATA1-sub001/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Signing request metrics, recorded by relay.TransactionRelay.
//
// SignatureRequestsTotal counts created requests by request type.
// TransactionTransitionsTotal counts state machine transitions by {from, to}; a rising
// signing->pending rate means the wallet signer is failing.
// AutoApprovalsTotal counts requests signed without the user, by request type.
//
// Example PromQL queries:
//   - Share of requests auto-approved:  sum(rate(relay_auto_approvals_total[1h])) / sum(rate(relay_signature_requests_total[1h]))
//   - Signer rollbacks:                 rate(relay_transaction_transitions_total{from="signing",to="pending"}[15m])
var (
	SignatureRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_signature_requests_total",
			Help: "Total number of signing requests created, by request type.",
		},
		[]string{"request_type"},
	)

	TransactionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transaction_transitions_total",
			Help: "Total number of signing request status transitions, by previous and new status.",
		},
		[]string{"from", "to"},
	)

	AutoApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auto_approvals_total",
			Help: "Total number of signing requests approved without user interaction, by request type.",
		},
		[]string{"request_type"},
	)
)

// Wallet signer metrics.
//
// SignerCallDuration observes each call to the external wallet signer including retries.
// SignerErrorsTotal counts failed calls, labelled "timeout" or "error".
var (
	SignerCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_signer_call_duration_seconds",
			Help:    "Duration of wallet signer calls, including retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
	)

	SignerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_signer_errors_total",
			Help: "Total number of failed wallet signer calls, by reason.",
		},
		[]string{"reason"},
	)
)

// ConnectionOperationsTotal counts connection lifecycle operations by
// {operation, result}. operation is one of create, renew, revoke, permissions,
// verify, refresh.
var ConnectionOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_connection_operations_total",
		Help: "Total number of connection lifecycle operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// Database pool gauges, sampled by StartDBStatsCollector rather than per request.
var (
	DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	})

	DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_in_use_connections",
		Help: "Current number of database connections checked out of the pool.",
	})
)

// ObserveConnectionOp records the outcome of a connection operation
func ObserveConnectionOp(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ConnectionOperationsTotal.WithLabelValues(operation, result).Inc()
}

// StartDBStatsCollector samples the pool statistics of db immediately and then every
// interval until ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	sample := func() {
		stats := db.Stats()
		DBOpenConnections.Set(float64(stats.OpenConnections))
		DBInUseConnections.Set(float64(stats.InUse))
	}
	sample()

	safego.Go("telemetry.db_stats", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample()
			}
		}
	})
}
