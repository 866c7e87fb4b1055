package dbsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

const (
	// DefaultPoolSize is the number of idle connections kept per database
	DefaultPoolSize = 5
	// DefaultMaxOverflow is how many connections may be opened beyond the pool size
	DefaultMaxOverflow = 10
	// DefaultPoolTimeout bounds how long a scope waits for a free connection
	DefaultPoolTimeout = 30 * time.Second
	// DefaultProbeTimeout bounds the startup liveness probe
	DefaultProbeTimeout = 5 * time.Second
)

// OpenFunc opens a pooled engine; tests swap it to inject fakes
type OpenFunc func(driverName, dsn string) (*sqlx.DB, error)

// Options holds pool settings shared by every engine
type Options struct {
	PoolSize        int
	MaxOverflow     int
	PoolTimeout     time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ProbeTimeout    time.Duration

	// Open defaults to sqlx.Open
	Open OpenFunc
}

func (o *Options) applyDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.MaxOverflow < 0 {
		o.MaxOverflow = 0
	}
	if o.PoolTimeout <= 0 {
		o.PoolTimeout = DefaultPoolTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.Open == nil {
		o.Open = sqlx.Open
	}
}

// ConnectionHandler owns one pooled engine and one session factory per database id
type ConnectionHandler struct {
	mu        sync.RWMutex
	factories map[string]*SessionFactory
	logger    *slog.Logger
}

// NewConnectionHandler opens and probes an engine for every database id.
// Ids that fail the probe are logged and skipped; if none succeed the
// handler is not created.
func NewConnectionHandler(ctx context.Context, creds Credentials, databaseIDs []string, opts Options, logger *slog.Logger) (*ConnectionHandler, error) {
	opts.applyDefaults()

	h := &ConnectionHandler{
		factories: make(map[string]*SessionFactory, len(databaseIDs)),
		logger:    logger,
	}

	for _, dbID := range databaseIDs {
		if _, exists := h.factories[dbID]; exists {
			continue
		}

		db, err := h.openEngine(ctx, creds, dbID, opts)
		if err != nil {
			logger.Error("Failed to connect to database",
				slog.String("db_id", dbID),
				slog.String("server", creds.Server),
				slog.Any("error", err),
			)
			continue
		}

		h.factories[dbID] = &SessionFactory{
			dbID:        dbID,
			db:          db,
			poolTimeout: opts.PoolTimeout,
			logger:      logger,
		}

		logger.Info("Successfully connected to database",
			slog.String("db_id", dbID),
			slog.Int("pool_size", opts.PoolSize),
			slog.Int("max_overflow", opts.MaxOverflow),
		)
	}

	if len(h.factories) == 0 {
		logger.Error("No database could be connected",
			slog.String("databases", strings.Join(databaseIDs, ",")),
		)
		return nil, fmt.Errorf("%w: tried %s", ErrNoDatabaseAvailable, strings.Join(databaseIDs, ","))
	}

	return h, nil
}

// openEngine opens the pool for dbID and confirms reachability with one ping
func (h *ConnectionHandler) openEngine(ctx context.Context, creds Credentials, dbID string, opts Options) (*sqlx.DB, error) {
	dsn, err := BuildDSN(creds, dbID)
	if err != nil {
		return nil, err
	}

	db, err := opts.Open(driverName(creds.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	db.SetMaxOpenConns(opts.PoolSize + opts.MaxOverflow)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()

	if err := db.PingContext(probeCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("liveness probe failed: %w", err)
	}

	return db, nil
}

// GetSession returns the session factory for dbID
func (h *ConnectionHandler) GetSession(dbID string) (*SessionFactory, error) {
	h.mu.RLock()
	factory, ok := h.factories[dbID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Error("Database not available",
			slog.String("db_id", dbID),
		)
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotConfigured, dbID)
	}

	return factory, nil
}

// Databases returns the ids of every connected database, sorted
func (h *ConnectionHandler) Databases() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.factories))
	for id := range h.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns pool statistics for dbID; InUse is the checked-out connection count
func (h *ConnectionHandler) Stats(dbID string) (sql.DBStats, error) {
	factory, err := h.GetSession(dbID)
	if err != nil {
		return sql.DBStats{}, err
	}
	return factory.db.Stats(), nil
}

// ActiveScopes returns the number of open session scopes on dbID
func (h *ConnectionHandler) ActiveScopes(dbID string) int {
	factory, err := h.GetSession(dbID)
	if err != nil {
		return 0
	}
	return int(factory.active.Load())
}

// HealthCheck pings every engine and joins the failures
func (h *ConnectionHandler) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, dbID := range h.Databases() {
		factory, err := h.GetSession(dbID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := factory.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database %s health check failed: %w", dbID, err))
		}
	}
	return errors.Join(errs...)
}

// Dispose closes every engine. Failures are logged and do not stop the rest.
func (h *ConnectionHandler) Dispose() {
	h.mu.Lock()
	factories := h.factories
	h.factories = make(map[string]*SessionFactory)
	h.mu.Unlock()

	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, dbID := range ids {
		h.logger.Info("Disposing engine",
			slog.String("db_id", dbID),
		)
		if err := factories[dbID].db.Close(); err != nil {
			h.logger.Error("Could not dispose engine",
				slog.String("db_id", dbID),
				slog.Any("error", err),
			)
		}
	}
}
