// Package main is the entry point for the DApp relay server binary.
// It dispatches three subcommands (serve, migrate, version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs migrations on startup unless database.auto_migrate is off.
//
// Prometheus metrics are served on a dedicated port (telemetry.metrics.prometheus_port,
// default 9090) so the scrape path stays off the public listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api"
	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/auth"
	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/repositories"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
	"github.com/deabakjj/MYCREATA1-sub001/internal/signer"
	"github.com/deabakjj/MYCREATA1-sub001/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	dbStatsInterval = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("DApp Relay v%s\n", api.Version)
		return nil
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|force VERSION>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2:])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output, cfg.Telemetry.ServiceName)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	telemetry.StartDBStatsCollector(statsCtx, database, dbStatsInterval)

	if cfg.Database.AutoMigrate {
		slog.Info("running database migrations")
		if err := db.RunMigrations(database, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema version", "version", version, "dirty", dirty)
	}

	deps, closeDeps, err := buildDependencies(cfg, database)
	if err != nil {
		return err
	}
	defer closeDeps()

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bgServices := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"tls", cfg.Security.TLS.Enabled,
			"redis", deps.Redis != nil,
			"audit", cfg.Audit.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop rate limiter goroutines once in-flight requests have drained
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// buildDependencies assembles the relay services on top of the database. The returned
// func releases the Redis client and flushes audit shippers.
func buildDependencies(cfg *config.Config, database *sql.DB) (api.Dependencies, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (api.Dependencies, func(), error) {
		closeAll()
		return api.Dependencies{}, nil, err
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	accountRepo := repositories.NewAccountRepository(sqlxDB)
	connectionRepo := repositories.NewConnectionRepository(database)
	transactionRepo := repositories.NewTransactionRepository(database)
	auditRepo := repositories.NewAuditRepository(database)

	userTokens, err := auth.NewUserTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return fail(fmt.Errorf("invalid auth configuration: %w", err))
	}
	tokenIssuer, err := auth.NewTokenIssuer(cfg.Auth.ConnectionTokenSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		return fail(fmt.Errorf("invalid auth configuration: %w", err))
	}

	registry := relay.NewConnectionRegistry(connectionRepo, accountRepo, tokenIssuer, relay.RegistryConfig{
		DefaultTTL:   cfg.Relay.ConnectionTTL,
		RefreshGrace: cfg.Relay.RefreshGrace,
	})

	risk, err := relay.NewRiskPolicy(cfg.Relay.TrustedRecipients)
	if err != nil {
		return fail(fmt.Errorf("invalid relay configuration: %w", err))
	}

	signerClient, err := signer.New(signer.Config{
		URL:             cfg.Signer.URL,
		APIKey:          cfg.Signer.APIKey,
		Timeout:         cfg.Signer.AttemptTimeout,
		MaxRetries:      cfg.Signer.MaxRetries,
		InitialInterval: cfg.Signer.InitialInterval,
		MaxInterval:     cfg.Signer.MaxInterval,
	})
	if err != nil {
		return fail(fmt.Errorf("invalid signer configuration: %w", err))
	}

	transactionRelay := relay.NewTransactionRelay(registry, transactionRepo, signerClient, risk, relay.RelayConfig{
		DefaultExpiry: cfg.Relay.RequestExpiry,
		MaxExpiry:     cfg.Relay.MaxRequestExpiry,
		SignTimeout:   cfg.Signer.Timeout,
	})

	deps := api.Dependencies{
		DB:           database,
		UserTokens:   userTokens,
		Connections:  registry,
		Transactions: transactionRelay,
		Accounts:     accountRepo,
		AuditLogs:    auditRepo,
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("failed to close redis client", "error", err)
			}
		})
		deps.Redis = rdb
	}

	if cfg.Audit.Enabled {
		shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return fail(fmt.Errorf("invalid audit configuration: %w", err))
		}
		closers = append(closers, func() {
			if err := shippers.Close(); err != nil {
				slog.Warn("failed to close audit shippers", "error", err)
			}
		})
		var shipper audit.Shipper
		if shippers.Len() > 0 {
			shipper = shippers
		}
		deps.Recorder = audit.NewRecorder(auditRepo, shipper)
	}

	return deps, closeAll, nil
}

// startMetricsServer serves /metrics on its own port so it is not reachable
// through the public API ingress path.
func startMetricsServer(port int) {
	metricsAddr := fmt.Sprintf(":%d", port)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
		srv := &http.Server{
			Addr:         metricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func runMigrations(cfg *config.Config, args []string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	direction := args[0]
	if direction == "force" {
		// Clears a dirty state left by an interrupted migration
		if len(args) < 2 {
			return errors.New("usage: migrate force VERSION")
		}
		target, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		log.Printf("Forcing migration version: %d", target)
		if err := db.ForceMigrationVersion(database, target); err != nil {
			return err
		}
	} else {
		log.Printf("Running migrations: %s", direction)
		if err := db.RunMigrations(database, direction); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}
