// Package api wires together all HTTP routes for the DApp relay.
//
// Route groups:
//   - Owner routes (/api/v1/connections, /api/v1/transactions, /api/v1/audit-logs)
//     require a platform user JWT and are limited per user.
//   - DApp routes (/api/v1/dapp/) carry no user identity. They require an Origin or
//     Referer header, are limited per origin, and every handler checks that origin
//     against the connection's registered domain.
//   - System routes (/health, /ready, /version) are unauthenticated and skipped by
//     the request metrics.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api/auditlogs"
	"github.com/deabakjj/MYCREATA1-sub001/internal/api/connections"
	"github.com/deabakjj/MYCREATA1-sub001/internal/api/dapp"
	"github.com/deabakjj/MYCREATA1-sub001/internal/api/transactions"
	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// Version is reported by /version. It is overridden at build time with -ldflags.
var Version = "0.1.0"

// dappPrefix is the path prefix of every DApp-facing route
const dappPrefix = "/api/v1/dapp"

// readinessTimeout bounds each dependency probe in /ready
const readinessTimeout = 2 * time.Second

// ConnectionService is the connection registry as used by the owner and DApp routes
type ConnectionService interface {
	connections.Service
	dapp.ConnectionService
}

// TransactionService is the transaction relay as used by the owner and DApp routes
type TransactionService interface {
	transactions.Service
	dapp.TransactionService
}

// Dependencies are the collaborators the router dispatches to
type Dependencies struct {
	DB           *sql.DB
	Redis        *redis.Client // Optional; enables shared rate limits and the Redis readiness probe
	UserTokens   middleware.UserTokenVerifier
	Connections  ConnectionService
	Transactions TransactionService
	Accounts     relay.AccountDirectory
	AuditLogs    auditlogs.Store
	Recorder     *audit.Recorder // Nil disables audit recording
}

// BackgroundServices holds references to background goroutines and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins, dappPrefix))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Redis))
	router.GET("/version", versionHandler())

	newLimiter := func(name string, lc config.LimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		rlc := middleware.RateLimitConfig{RequestsPerMinute: lc.RequestsPerMinute, BurstSize: lc.Burst}
		if deps.Redis != nil {
			return middleware.RateLimitMiddleware(middleware.NewRedisRateLimiter(deps.Redis, rlc, cfg.Redis.KeyPrefix+name+":"))
		}
		rl := middleware.NewRateLimiter(rlc)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return middleware.RateLimitMiddleware(rl)
	}
	ownerLimit := newLimiter("owner", cfg.Security.RateLimiting.Owner)
	dappLimit := newLimiter("dapp", cfg.Security.RateLimiting.DApp)
	tokenLimit := newLimiter("token", cfg.Security.RateLimiting.Token)

	var auditCfg *config.AuditConfig
	recorder := deps.Recorder
	if cfg.Audit.Enabled {
		auditCfg = &cfg.Audit
	} else {
		recorder = nil
	}

	connectionHandlers := connections.NewHandlers(deps.Connections)
	transactionHandlers := transactions.NewHandlers(deps.Transactions)
	dappHandlers := dapp.NewHandlers(deps.Connections, deps.Transactions, deps.Accounts)
	auditLogHandlers := auditlogs.NewHandlers(deps.AuditLogs)

	apiV1 := router.Group("/api/v1")

	// Owner endpoints: platform user JWT, limited per user
	owner := apiV1.Group("")
	owner.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	owner.Use(middleware.AuthMiddleware(deps.UserTokens))
	owner.Use(ownerLimit)
	owner.Use(middleware.AuditMiddleware(recorder, auditCfg))
	{
		owner.POST("/connections", connectionHandlers.CreateHandler())
		owner.GET("/connections", connectionHandlers.ListHandler())
		owner.GET("/connections/:id", connectionHandlers.GetHandler())
		owner.POST("/connections/:id/renew", connectionHandlers.RenewHandler())
		owner.PATCH("/connections/:id/permissions", connectionHandlers.UpdatePermissionsHandler())
		owner.DELETE("/connections/:id", connectionHandlers.RevokeHandler())

		owner.GET("/transactions", transactionHandlers.ListHandler())
		owner.GET("/transactions/:id", transactionHandlers.GetHandler())
		owner.POST("/transactions/:id/approve", transactionHandlers.ApproveHandler())
		owner.POST("/transactions/:id/reject", transactionHandlers.RejectHandler())

		owner.GET("/audit-logs", auditLogHandlers.ListHandler())
	}

	// DApp endpoints: origin required, limited per origin
	dappGroup := router.Group(dappPrefix)
	dappGroup.Use(middleware.SecurityHeadersMiddleware(middleware.DAppSecurityHeadersConfig()))
	dappGroup.Use(middleware.OriginMiddleware())
	dappGroup.Use(dappLimit)
	dappGroup.Use(middleware.AuditMiddleware(recorder, auditCfg))
	{
		dappGroup.GET("/connections/:connectionKey", dappHandlers.GetConnectionHandler())
		dappGroup.POST("/verify-token", tokenLimit, dappHandlers.VerifyTokenHandler())
		dappGroup.POST("/refresh-token", tokenLimit, dappHandlers.RefreshTokenHandler())

		dappGroup.POST("/transactions", dappHandlers.CreateTransactionHandler())
		dappGroup.GET("/transactions/:id/status", dappHandlers.TransactionStatusHandler())
		dappGroup.POST("/transactions/:id/complete", dappHandlers.CompleteTransactionHandler())
		dappGroup.POST("/transactions/:id/fail", dappHandlers.FailTransactionHandler())
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. A nil Redis client
// is skipped: limits are then kept in memory.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service and API versions.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The record format
// follows the global slog handler configured by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

// logRequest emits the access log record. Server errors log at error level and
// client errors at warn.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	status := c.Writer.Status()

	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", status),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if origin := middleware.OriginHost(c); origin != "" {
		attrs = append(attrs, slog.String("origin_host", origin))
	}
	if userID := middleware.UserID(c); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}
