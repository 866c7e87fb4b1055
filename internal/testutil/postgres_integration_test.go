//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/internal/tasks"
	"github.com/cuongbtq/taskworker/internal/tasks/events"
	"github.com/cuongbtq/taskworker/shared/dbsession"
	"github.com/cuongbtq/taskworker/shared/logger"
)

func TestPostgres_SessionsAcrossDatabases(t *testing.T) {
	srv := NewPostgres(t, "archive")
	ctx := context.Background()

	h, err := dbsession.NewConnectionHandler(ctx, srv.Credentials, []string{"main", "archive", "missing"}, dbsession.Options{PoolSize: 2}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(h.Dispose)

	// the database that does not exist is skipped
	assert.Equal(t, []string{"archive", "main"}, h.Databases())

	registry := task.NewRegistry([]string{"queue1", "queue2"})
	ev, err := tasks.RegisterAll(registry, tasks.Deps{Sessions: h, BatchSize: 10, Logger: logger.NewDiscard()})
	require.NoError(t, err)
	require.NoError(t, ev.EnsureSchema(ctx))

	def, err := registry.Lookup(events.RecordTask)
	require.NoError(t, err)

	names := make([]string, 25)
	for i := range names {
		names[i] = fmt.Sprintf("e-%d", i)
	}
	raw, err := json.Marshal([]any{"main", names})
	require.NoError(t, err)
	args, err := task.NewArgs(raw)
	require.NoError(t, err)

	got, err := def.Handler(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	var count int
	require.NoError(t, h.Scope(ctx, "main", func(s *dbsession.Session) error {
		return s.GetContext(ctx, &count, "SELECT COUNT(*) FROM events")
	}, dbsession.WithReadOnly()))
	assert.Equal(t, 25, count)
}

func TestPostgres_FailedScopeRollsBack(t *testing.T) {
	srv := NewPostgres(t)
	ctx := context.Background()

	h, err := dbsession.NewConnectionHandler(ctx, srv.Credentials, []string{"main"}, dbsession.Options{PoolSize: 1}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(h.Dispose)

	require.NoError(t, h.Scope(ctx, "main", func(s *dbsession.Session) error {
		_, err := s.ExecContext(ctx, "CREATE TABLE items (id INTEGER)")
		return err
	}))

	boom := errors.New("boom")
	err = h.Scope(ctx, "main", func(s *dbsession.Session) error {
		if _, err := s.ExecContext(ctx, "INSERT INTO items VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, h.Scope(ctx, "main", func(s *dbsession.Session) error {
		return s.GetContext(ctx, &count, "SELECT COUNT(*) FROM items")
	}, dbsession.WithReadOnly()))
	assert.Equal(t, 0, count)

	stats, err := h.Stats("main")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.InUse)
}

func TestPostgres_ResultBackend(t *testing.T) {
	srv := NewPostgres(t)
	ctx := context.Background()

	store, err := backend.Open(ctx, srv.URL, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Store(ctx, &backend.Result{TaskID: "t-1", TaskName: "add", Status: domain.TaskStatusStarted}))
	require.NoError(t, store.Store(ctx, &backend.Result{TaskID: "t-1", TaskName: "add", Status: domain.TaskStatusSuccess, Result: json.RawMessage(`5`)}))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
	assert.JSONEq(t, `5`, string(got.Result))
}
