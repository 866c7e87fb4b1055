package dbsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultBatchSize is the advisory flush interval for bulk writes
const DefaultBatchSize = 500

// SessionFactory issues sessions bound to one database engine
type SessionFactory struct {
	dbID        string
	db          *sqlx.DB
	poolTimeout time.Duration
	logger      *slog.Logger
	active      atomic.Int64
}

// DatabaseID returns the database id this factory is bound to
func (f *SessionFactory) DatabaseID() string {
	return f.dbID
}

// Begin checks out one pooled connection and opens a transaction on it.
// The caller owns the session and must end it through the scope helpers.
func (f *SessionFactory) Begin(ctx context.Context, opts ...ScopeOption) (*Session, error) {
	cfg := scopeConfig{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, f.poolTimeout)
	conn, err := f.db.Connx(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			f.logger.Warn("Connection pool exhausted",
				slog.String("db_id", f.dbID),
				slog.Duration("pool_timeout", f.poolTimeout),
			)
			return nil, fmt.Errorf("%w: database %s after %s", ErrPoolTimeout, f.dbID, f.poolTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection for database %s: %w", f.dbID, err)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		conn.Close()
		f.logger.Error("Failed to begin transaction",
			slog.String("db_id", f.dbID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to begin transaction on database %s: %w", f.dbID, err)
	}

	f.active.Add(1)

	return &Session{
		factory:   f,
		conn:      conn,
		tx:        tx,
		readOnly:  cfg.readOnly,
		batchSize: cfg.batchSize,
	}, nil
}

type statement struct {
	query string
	args  []interface{}
}

// Session is a transaction on a single checked-out connection.
// It is not safe for concurrent use.
type Session struct {
	factory   *SessionFactory
	conn      *sqlx.Conn
	tx        *sqlx.Tx
	readOnly  bool
	batchSize int
	pending   []statement
	released  bool
}

// DatabaseID returns the database id the session is bound to
func (s *Session) DatabaseID() string {
	return s.factory.dbID
}

// DriverName returns the sql driver of the underlying engine
func (s *Session) DriverName() string {
	return s.tx.DriverName()
}

// ReadOnly reports whether the session will be rolled back instead of committed
func (s *Session) ReadOnly() bool {
	return s.readOnly
}

// BatchSize returns the advisory number of staged statements between flushes
func (s *Session) BatchSize() int {
	return s.batchSize
}

// Add stages a statement; it runs on the next Flush or before commit
func (s *Session) Add(query string, args ...interface{}) {
	s.pending = append(s.pending, statement{query: s.tx.Rebind(query), args: args})
}

// Pending returns the number of staged statements
func (s *Session) Pending() int {
	return len(s.pending)
}

// ShouldFlush reports whether the staged statements reached the batch size
func (s *Session) ShouldFlush() bool {
	return s.batchSize > 0 && len(s.pending) >= s.batchSize
}

// Flush executes the staged statements inside the transaction
func (s *Session) Flush(ctx context.Context) error {
	for i, stmt := range s.pending {
		if _, err := s.tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			clear(s.pending[:i])
			s.pending = s.pending[i:]
			return fmt.Errorf("failed to flush statement %d on database %s: %w", i, s.DatabaseID(), err)
		}
	}

	if n := len(s.pending); n > 0 {
		s.factory.logger.Debug("Session flushed",
			slog.String("db_id", s.DatabaseID()),
			slog.Int("statements", n),
		)
	}
	// drop the flushed args, keep the capacity for the next batch
	clear(s.pending)
	s.pending = s.pending[:0]
	return nil
}

// ExecContext executes a query without returning any rows
func (s *Session) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := s.tx.ExecContext(ctx, s.tx.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return result, nil
}

// GetContext executes a query and scans a single row into dest
func (s *Session) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := s.tx.GetContext(ctx, dest, s.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to get row: %w", err)
	}
	return nil
}

// SelectContext executes a query and scans multiple rows into dest
func (s *Session) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := s.tx.SelectContext(ctx, dest, s.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to select rows: %w", err)
	}
	return nil
}

// QueryxContext executes a query and returns rows
func (s *Session) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	rows, err := s.tx.QueryxContext(ctx, s.tx.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	return rows, nil
}

// NamedExecContext executes a named query without returning any rows
func (s *Session) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	result, err := s.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to execute named query: %w", err)
	}
	return result, nil
}

func (s *Session) commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit on database %s: %w", s.DatabaseID(), err)
	}
	return nil
}

func (s *Session) rollback() {
	s.pending = nil
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.factory.logger.Error("Failed to roll back transaction",
			slog.String("db_id", s.DatabaseID()),
			slog.Any("error", err),
		)
	}
}

// release returns the connection to the pool. Safe to call more than once.
func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true

	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		s.factory.logger.Error("Failed to release connection",
			slog.String("db_id", s.DatabaseID()),
			slog.Any("error", err),
		)
	}
	s.factory.active.Add(-1)

	s.factory.logger.Debug("Session closed",
		slog.String("db_id", s.DatabaseID()),
	)
}
