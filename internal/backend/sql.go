package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_results (
	task_id    TEXT PRIMARY KEY,
	task_name  TEXT NOT NULL DEFAULT '',
	queue      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	result     TEXT,
	error      TEXT,
	retries    INTEGER NOT NULL DEFAULT 0,
	date_done  TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
)`

type resultRow struct {
	TaskID   string         `db:"task_id"`
	TaskName string         `db:"task_name"`
	Queue    string         `db:"queue"`
	Status   string         `db:"status"`
	Result   sql.NullString `db:"result"`
	Error    sql.NullString `db:"error"`
	Retries  int            `db:"retries"`
	DateDone sql.NullTime   `db:"date_done"`
}

// SQLStore keeps results in the task_results table
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// OpenSQL connects with driverName and creates the results table if needed
func OpenSQL(ctx context.Context, driverName, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to result backend: %w", err)
	}
	if driverName == "sqlite" {
		// single writer
		db.SetMaxOpenConns(1)
	}

	store := NewSQLStore(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore creates a store on an open database
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the results table if it does not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create task_results table: %w", err)
	}
	return nil
}

// Store upserts the result by task id
func (s *SQLStore) Store(ctx context.Context, r *Result) error {
	query := s.db.Rebind(`
		INSERT INTO task_results (task_id, task_name, queue, status, result, error, retries, date_done, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			task_name = excluded.task_name,
			queue = excluded.queue,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			retries = excluded.retries,
			date_done = excluded.date_done,
			updated_at = excluded.updated_at
	`)

	var result, errorMsg sql.NullString
	if len(r.Result) > 0 {
		result = sql.NullString{String: string(r.Result), Valid: true}
	}
	if r.Error != "" {
		errorMsg = sql.NullString{String: r.Error, Valid: true}
	}
	var dateDone sql.NullTime
	if r.DateDone != nil {
		dateDone = sql.NullTime{Time: r.DateDone.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		r.TaskID, r.TaskName, r.Queue, r.Status, result, errorMsg, r.Retries, dateDone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store result for task %s: %w", r.TaskID, err)
	}

	s.logger.Debug("Task result stored",
		slog.String("task_id", r.TaskID),
		slog.String("status", r.Status),
	)

	return nil
}

// Get retrieves the result for taskID; an unknown id is PENDING
func (s *SQLStore) Get(ctx context.Context, taskID string) (*Result, error) {
	query := s.db.Rebind(`
		SELECT task_id, task_name, queue, status, result, error, retries, date_done
		FROM task_results
		WHERE task_id = ?
	`)

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Pending(taskID), nil
		}
		return nil, fmt.Errorf("failed to get result for task %s: %w", taskID, err)
	}

	r := &Result{
		TaskID:   row.TaskID,
		TaskName: row.TaskName,
		Queue:    row.Queue,
		Status:   row.Status,
		Error:    row.Error.String,
		Retries:  row.Retries,
	}
	if row.Result.Valid {
		r.Result = []byte(row.Result.String)
	}
	if row.DateDone.Valid {
		done := row.DateDone.Time.UTC()
		r.DateDone = &done
	}
	return r, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
