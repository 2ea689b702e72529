/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Parse command-line flags (override port and database path)
  3. Initialize SQLite store (migrations run on open)
  4. Load the fee registry and seed policies into an empty database
  5. Wire the engine with its report sinks (run history, metrics, AMQP)
  6. Configure HTTP router, start the scheduler if enabled
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: $PORT or 8080)
  -db      SQLite database path (default: $DB_PATH or ./data/fees.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. The notable ones:
  TIMEZONE, FEE_REGISTRY_FILE, SCHEDULER_ENABLED, AMQP_URL, LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the AMQP publisher and the database

EXAMPLES:
  # Run with file database
  ./server -db="./data/fees.db"

  # Run in memory with the scheduler every 10 minutes
  SCHEDULER_ENABLED=true SCHEDULER_INTERVAL=10m ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/events"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/logging"
	"github.com/warp/fee-engine/metrics"
	"github.com/warp/fee-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := config.Load()
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath

	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))
	logger := slog.Default()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Fee registry
	loc := cfg.Location()
	pf := factory.NewPolicyFactory(loc)
	registry, policies, err := pf.LoadFile(cfg.RegistryFile)
	if err != nil {
		return err
	}
	existing, err := store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if err := factory.SeedPolicies(ctx, store, policies); err != nil {
			return err
		}
		logger.Info("seeded fee policies", "count", len(policies))
	}

	// Engine and report sinks
	recorder := metrics.NewRecorder()
	engine := billing.NewEngine(store, registry)
	engine.Normalizer = billing.NewNormalizer(loc)
	engine.Workers = cfg.GenerationWorkers
	engine.Logger = logger
	engine.Sinks = []billing.ReportSink{store, recorder}

	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			return err
		}
		defer publisher.Close()
		publisher.Logger = logger
		engine.Sinks = append(engine.Sinks, publisher)
		logger.Info("publishing generation events", "exchange", cfg.AMQPExchange)
	}

	handler := api.NewHandler(store, engine)
	handler.Factory = pf
	handler.Logger = logger

	if cfg.SchedulerEnabled {
		scheduler := api.NewGenerationScheduler(engine)
		scheduler.CheckInterval = cfg.SchedulerInterval
		scheduler.Logger = logger
		handler.Scheduler = scheduler
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        recorder,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "db", cfg.DBPath, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
