// Package testutil starts throwaway servers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cuongbtq/taskworker/shared/dbsession"
)

const (
	postgresUser     = "taskworker"
	postgresPassword = "testpassword"
	postgresDatabase = "main"
)

// PostgresServer is a running postgres container
type PostgresServer struct {
	// Credentials reach every database on the server
	Credentials dbsession.Credentials
	// URL is a postgres:// connection string for the default database
	URL string
}

// NewPostgres starts a postgres container with the database "main" plus
// every name in extra. The container is terminated via t.Cleanup.
func NewPostgres(t *testing.T, extra ...string) *PostgresServer {
	t.Helper()
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(postgresDatabase),
		tcpostgres.WithUsername(postgresUser),
		tcpostgres.WithPassword(postgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	host, err := pgCtr.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := pgCtr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	if len(extra) > 0 {
		db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		defer db.Close() //nolint:errcheck

		for _, name := range extra {
			if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %q", name)); err != nil {
				t.Fatalf("create database %s: %v", name, err)
			}
		}
	}

	return &PostgresServer{
		Credentials: dbsession.Credentials{
			Driver:   dbsession.DriverPostgres,
			User:     postgresUser,
			Password: postgresPassword,
			Server:   host,
			Port:     port.Int(),
			SSLMode:  "disable",
		},
		URL: connStr,
	}
}
