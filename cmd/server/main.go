/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the draft billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build the logger
  3. Initialize SQLite store
  4. Build the metrics collector and the assembler
  5. Configure HTTP router, start the monthly close scheduler if enabled
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port, overrides the configuration
  -db      SQLite database path, overrides the configuration
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the close scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  ./server -config=./billing.yaml
  ./server -db=":memory:" -port=3000
  CARE_BILLING_TIMEZONE=Europe/Paris CARE_BILLING_HOLIDAYS=fr ./server

SEE ALSO:
  - config/config.go: Configuration and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/care-billing/api"
	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/config"
	"github.com/warp/care-billing/metrics"
	"github.com/warp/care-billing/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	loc, err := cfg.Billing.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Metrics on a dedicated registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewWithRegistry(reg)

	assembler := billing.NewAssembler(store, store,
		billing.WithLogger(logger.With().Str("component", "assembler").Logger()),
		billing.WithObserver(collector),
		billing.WithWorkers(cfg.Billing.Workers),
		billing.WithFailurePolicy(cfg.Billing.FailurePolicy()),
		billing.WithLocation(loc),
		billing.WithCalendar(cfg.Billing.Calendar()),
	)

	handler := api.NewHandler(store, assembler, loc, logger)
	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        collector,
	}
	if cfg.Metrics.IsEnabled() {
		routerCfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	router := api.NewRouter(handler, routerCfg)

	var scheduler *api.CloseScheduler
	if cfg.Billing.AutoClose {
		scheduler = api.NewCloseScheduler(handler, cfg.Billing.CloseInterval)
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("db", cfg.Database.Path).
			Str("timezone", loc.String()).
			Int("workers", cfg.Billing.Workers).
			Str("on_error", cfg.Billing.OnError).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal or a listen failure
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err, failed := <-serverErr:
		if failed {
			if scheduler != nil {
				scheduler.Stop()
			}
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
