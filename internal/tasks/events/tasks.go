// Package events holds the database-backed tasks. Each invocation opens its
// own session scope on the database id passed as the first argument.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/shared/dbsession"
)

const (
	// Queue is where the event tasks are routed
	Queue = "queue1"

	RecordTask = "record_events"
	CountTask  = "count_events"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS events (
	name       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`
	createTableSQLServer = `IF OBJECT_ID(N'events', N'U') IS NULL
CREATE TABLE events (
	name       NVARCHAR(255) NOT NULL,
	created_at DATETIME2 NOT NULL
)`

	insertEvent = `INSERT INTO events (name, created_at) VALUES (?, ?)`
	countEvents = `SELECT COUNT(*) FROM events`
)

// Tasks runs event tasks against the databases of a connection handler.
// With a nil handler every call fails with ErrNoDatabaseAvailable, which
// lets producers register the tasks without connecting anywhere.
type Tasks struct {
	sessions  *dbsession.ConnectionHandler
	batchSize int
	logger    *slog.Logger
}

// New creates the tasks; batchSize <= 0 uses dbsession.DefaultBatchSize
func New(sessions *dbsession.ConnectionHandler, batchSize int, logger *slog.Logger) *Tasks {
	if batchSize <= 0 {
		batchSize = dbsession.DefaultBatchSize
	}
	return &Tasks{
		sessions:  sessions,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Register adds record_events and count_events to reg
func (t *Tasks) Register(reg *task.Registry) error {
	if err := reg.Register(RecordTask, Queue, t.Record,
		task.WithMaxRetries(3),
		task.WithRetryDelay(2*time.Second),
	); err != nil {
		return err
	}
	return reg.Register(CountTask, Queue, t.Count, task.WithMaxRetries(3))
}

// EnsureSchema creates the events table on every database of the handler
func (t *Tasks) EnsureSchema(ctx context.Context) error {
	if t.sessions == nil {
		return nil
	}

	for _, dbID := range t.sessions.Databases() {
		err := t.sessions.Scope(ctx, dbID, func(s *dbsession.Session) error {
			ddl := createTable
			if s.DriverName() == dbsession.DriverSQLServer {
				ddl = createTableSQLServer
			}
			_, err := s.ExecContext(ctx, ddl)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to create events table on %s: %w", dbID, err)
		}
	}
	return nil
}

// Record inserts one row per name into the events table of db_id.
// Args: [db_id, [name, ...]]. Returns the number of rows written.
func (t *Tasks) Record(ctx context.Context, args task.Args) (any, error) {
	var dbID string
	var names []string
	if err := args.Bind(&dbID, &names); err != nil {
		return nil, err
	}
	if t.sessions == nil {
		return nil, dbsession.ErrNoDatabaseAvailable
	}

	now := time.Now().UTC()
	err := t.sessions.Scope(ctx, dbID, func(s *dbsession.Session) error {
		for _, name := range names {
			s.Add(insertEvent, name, now)
			if s.ShouldFlush() {
				if err := s.Flush(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	}, dbsession.WithBatchSize(t.batchSize))
	if err != nil {
		return nil, err
	}

	t.logger.Info("Events recorded",
		slog.String("db_id", dbID),
		slog.Int("count", len(names)),
	)
	return len(names), nil
}

// Count returns the number of rows in the events table of db_id.
// Args: [db_id]. Runs in a read-only scope.
func (t *Tasks) Count(ctx context.Context, args task.Args) (any, error) {
	var dbID string
	if err := args.Bind(&dbID); err != nil {
		return nil, err
	}
	if t.sessions == nil {
		return nil, dbsession.ErrNoDatabaseAvailable
	}

	var n int
	err := t.sessions.Scope(ctx, dbID, func(s *dbsession.Session) error {
		return s.GetContext(ctx, &n, countEvents)
	}, dbsession.WithReadOnly())
	if err != nil {
		return nil, err
	}
	return n, nil
}
