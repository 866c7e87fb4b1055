// Package bootstrap turns a loaded configuration into the components the
// service binaries share: logger, session manager, registry and dispatcher.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/config"
	"github.com/cuongbtq/taskworker/internal/dispatcher"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/internal/tasks"
	"github.com/cuongbtq/taskworker/internal/tasks/events"
	"github.com/cuongbtq/taskworker/shared/dbsession"
	"github.com/cuongbtq/taskworker/shared/logger"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Debug:        cfg.Debug,
		Identifier:   cfg.Identifier,
		Dir:          cfg.Dir,
		MaxBytes:     cfg.MaxBytes,
		BackupCount:  cfg.BackupCount,
	}

	return logger.New(loggerCfg)
}

// InitSessions connects the session manager to every configured database.
// It returns nil when no database is configured.
func InitSessions(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (*dbsession.ConnectionHandler, error) {
	if len(cfg.Databases) == 0 {
		log.Info("No databases configured, database tasks are disabled")
		return nil, nil
	}

	creds := dbsession.Credentials{
		Driver:   cfg.Driver,
		User:     cfg.User,
		Password: cfg.Password,
		Server:   cfg.Host,
		Port:     cfg.Port,
		SSLMode:  cfg.SSLMode,
	}
	opts := dbsession.Options{
		PoolSize:        cfg.PoolSize,
		MaxOverflow:     cfg.Overflow(),
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ProbeTimeout:    cfg.ProbeTimeout,
	}

	return dbsession.NewConnectionHandler(ctx, creds, cfg.Databases, opts, log)
}

// BrokerQueues converts the configured queue list
func BrokerQueues(cfg *config.BrokerConfig) []broker.QueueConfig {
	queues := make([]broker.QueueConfig, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		queues = append(queues, broker.QueueConfig{Name: q.Name, RoutingPattern: q.RoutingPattern})
	}
	return queues
}

// DispatcherConfig maps the broker section onto the dispatcher configuration
func DispatcherConfig(cfg *config.BrokerConfig) dispatcher.Config {
	return dispatcher.Config{
		BrokerURL:  cfg.URL,
		BackendURL: cfg.ResultBackend,
		Serializer: cfg.Serializer,
		Queues:     BrokerQueues(cfg),
		Broker: broker.OpenOptions{
			Exchange: broker.ExchangeOptions{
				Name:    cfg.Exchange.Name,
				Type:    cfg.Exchange.Type,
				Durable: cfg.Exchange.Durable,
			},
			ConsumerTag:        cfg.Consumer.Tag,
			RetryAttempts:      cfg.Connection.RetryAttempts,
			RetryInterval:      cfg.Connection.RetryInterval,
			Heartbeat:          cfg.Connection.Heartbeat,
			ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
			PublishRetries:     cfg.Publish.RetryAttempts,
			PublishRetryDelay:  cfg.Publish.RetryInterval,
			PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		},
	}
}

// NewRegistry builds the registry over the configured queues and registers
// every task module
func NewRegistry(cfg *config.Config, sessions *dbsession.ConnectionHandler, log *slog.Logger) (*task.Registry, *events.Tasks, error) {
	registry := task.NewRegistry(cfg.QueueNames())
	ev, err := tasks.RegisterAll(registry, tasks.Deps{
		Sessions:  sessions,
		BatchSize: cfg.Worker.BatchSize,
		Logger:    log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register tasks: %w", err)
	}
	return registry, ev, nil
}
