package dbsession

import "errors"

var (
	// ErrNoDatabaseAvailable is returned when none of the configured databases passed the liveness probe
	ErrNoDatabaseAvailable = errors.New("no database available")

	// ErrDatabaseNotConfigured is returned for a database id that was never successfully initialized
	ErrDatabaseNotConfigured = errors.New("database not configured or connected")

	// ErrPoolTimeout is returned when no pooled connection frees up within the pool timeout
	ErrPoolTimeout = errors.New("connection pool timeout")

	// ErrUnsupportedDriver is returned for a driver name with no DSN builder
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
