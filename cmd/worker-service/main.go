package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/taskworker/internal/bootstrap"
	"github.com/cuongbtq/taskworker/internal/config"
	"github.com/cuongbtq/taskworker/internal/dispatcher"
	"github.com/cuongbtq/taskworker/internal/metrics"
	"github.com/cuongbtq/taskworker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the session manager; nil when no database is configured
	sessions, err := bootstrap.InitSessions(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	if sessions != nil {
		defer sessions.Dispose()
		appLogger.Info("Database connections established", slog.Any("databases", sessions.Databases()))
	}

	registry, events, err := bootstrap.NewRegistry(cfg, sessions, appLogger.Logger)
	if err != nil {
		return err
	}
	if err := events.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare events schema: %w", err)
	}

	m := metrics.New()
	if sessions != nil {
		if err := m.RegisterSessions(sessions); err != nil {
			return fmt.Errorf("failed to register session metrics: %w", err)
		}
	}

	client, err := dispatcher.Initialize(ctx, bootstrap.DispatcherConfig(&cfg.Broker), registry, appLogger.Logger, dispatcher.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	defer client.Close()

	appLogger.Info("Broker connection established", slog.Any("tasks", registry.Names()))

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Dispatcher:    client,
		Metrics:       m,
		Queues:        cfg.QueueNames(),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Broker.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// done closes once the worker has drained
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return workerInstance.Start(gctx)
	})

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics.Port, m)
		g.Go(func() error {
			appLogger.Info("Serving metrics", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerInstance.ID()))

	<-gctx.Done()
	appLogger.Info("Shutting down gracefully, waiting for running tasks",
		slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
	)

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		return nil
	}

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker service error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func newMetricsServer(port int, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
