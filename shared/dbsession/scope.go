package dbsession

import (
	"context"
	"log/slog"
)

type scopeConfig struct {
	readOnly  bool
	batchSize int
}

// ScopeOption configures a session scope
type ScopeOption func(*scopeConfig)

// WithReadOnly makes the scope roll back instead of commit
func WithReadOnly() ScopeOption {
	return func(c *scopeConfig) {
		c.readOnly = true
	}
}

// WithBatchSize sets the advisory flush interval reported by Session.ShouldFlush
func WithBatchSize(n int) ScopeOption {
	return func(c *scopeConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// ScopedSession runs fn inside a transactional session on dbID.
// See ConnectionHandler.Scope.
func ScopedSession(ctx context.Context, h *ConnectionHandler, dbID string, fn func(*Session) error, opts ...ScopeOption) error {
	return h.Scope(ctx, dbID, fn, opts...)
}

// Scope runs fn with a new session on dbID. When fn returns nil the staged
// statements are flushed and the transaction committed, unless the scope is
// read-only. When fn returns an error or panics the transaction is rolled
// back and the same error or panic propagates. The connection goes back to
// the pool on every path.
func (h *ConnectionHandler) Scope(ctx context.Context, dbID string, fn func(*Session) error, opts ...ScopeOption) error {
	factory, err := h.GetSession(dbID)
	if err != nil {
		return err
	}

	session, err := factory.Begin(ctx, opts...)
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			h.logger.Error("Operation panicked on database",
				slog.String("db_id", dbID),
			)
			session.rollback()
		}
		session.release()
	}()

	if err := fn(session); err != nil {
		finished = true
		h.logger.Error("Operation failed on database",
			slog.String("db_id", dbID),
			slog.Any("error", err),
		)
		session.rollback()
		return err
	}
	finished = true

	if session.readOnly {
		session.rollback()
		return nil
	}

	if err := session.Flush(ctx); err != nil {
		h.logger.Error("Operation failed on database",
			slog.String("db_id", dbID),
			slog.Any("error", err),
		)
		session.rollback()
		return err
	}

	if err := session.commit(); err != nil {
		h.logger.Error("Commit failed on database",
			slog.String("db_id", dbID),
			slog.Any("error", err),
		)
		return err
	}

	return nil
}
