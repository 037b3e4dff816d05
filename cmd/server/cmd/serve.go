package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entranthq/server/internal/api"
	"github.com/entranthq/server/internal/config"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/gateway"
	"github.com/entranthq/server/internal/jobs"
	"github.com/entranthq/server/internal/metrics"
	"github.com/entranthq/server/internal/notify"
	"github.com/entranthq/server/internal/storage/postgres"
	"github.com/entranthq/server/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables
- Connect to PostgreSQL and start the River job workers
- Serve the registration, team, and payment API
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting entrant server")

	metrics.Init(Version, GitCommit, BuildDate)

	tracingShutdown, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
	if err != nil {
		logger.Error().Err(err).Msg("tracing init failed, continuing without traces")
		tracingShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	pool, err := newPool(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	dbCollector := metrics.NewDBCollector(pool)
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	go dbCollector.Start(collectorCtx, 15*time.Second)
	defer collectorCancel()
	defer dbCollector.Stop()

	gateways := buildGateways(cfg.Gateways)
	notifier := notify.NewService(cfg.Notify, notify.EmailIDRecipients{}, repo.Registrations(), logger)

	paymentsService := payments.NewService(
		repo.Events(),
		repo.Registrations(),
		repo.Payments(),
		repo.Refunds(),
		repo.Webhooks(),
		gateways,
		notifier,
	)

	jobLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	workers, err := jobs.NewWorkers(paymentsService, pool, cfg.Jobs, jobLogger)
	if err != nil {
		return fmt.Errorf("job workers init failed: %w", err)
	}
	riverClient, err := jobs.NewClient(pool, workers, jobLogger,
		[]rivertype.Hook{metrics.NewRiverMetricsHook()}, jobs.NewPeriodicJobs(cfg.Jobs))
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river background job workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		} else {
			logger.Info().Msg("river workers stopped")
		}
	}()

	router := api.NewRouter(cfg, logger, api.Dependencies{
		Pool:        pool,
		Repo:        repo,
		RiverClient: riverClient,
		Gateways:    gateways,
		Notifier:    notifier,
		Version:     Version,
		GitCommit:   GitCommit,
		BuildDate:   BuildDate,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func newPool(cfg config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxIdle > 0 {
		poolConfig.MinConns = int32(cfg.Database.MaxIdle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}

// buildGateways registers every payment provider with credentials configured.
func buildGateways(cfg config.GatewaysConfig) *gateway.Registry {
	var clients []gateway.Client
	if cfg.Razorpay.KeyID != "" {
		clients = append(clients, gateway.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret))
	}
	if cfg.Stripe.SecretKey != "" {
		clients = append(clients, gateway.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret))
	}
	return gateway.NewRegistry(clients...)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
