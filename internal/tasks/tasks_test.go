package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/internal/tasks/events"
	"github.com/cuongbtq/taskworker/shared/dbsession"
	"github.com/cuongbtq/taskworker/shared/logger"
)

func mustArgs(t *testing.T, raw string) task.Args {
	t.Helper()
	args, err := task.NewArgs(json.RawMessage(raw))
	require.NoError(t, err)
	return args
}

func run(t *testing.T, reg *task.Registry, name, raw string) (any, error) {
	t.Helper()
	def, err := reg.Lookup(name)
	require.NoError(t, err)
	return def.Handler(context.Background(), mustArgs(t, raw))
}

func newSQLiteSessions(t *testing.T, ids ...string) *dbsession.ConnectionHandler {
	t.Helper()

	creds := dbsession.Credentials{Driver: dbsession.DriverSQLite, Server: t.TempDir()}
	h, err := dbsession.NewConnectionHandler(context.Background(), creds, ids, dbsession.Options{PoolSize: 2}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(h.Dispose)
	return h
}

func TestRegisterAll(t *testing.T) {
	reg := task.NewRegistry([]string{"queue1", "queue2"})
	_, err := RegisterAll(reg, Deps{Logger: logger.NewDiscard()})
	require.NoError(t, err)

	assert.Equal(t, []string{"add", "count_events", "multiply", "record_events"}, reg.Names())

	def, err := reg.Lookup("add")
	require.NoError(t, err)
	assert.Equal(t, "queue1", def.Queue)

	def, err = reg.Lookup("multiply")
	require.NoError(t, err)
	assert.Equal(t, "queue2", def.Queue)
}

func TestRegisterAll_QueueNotAllowed(t *testing.T) {
	reg := task.NewRegistry([]string{"queue1"})
	_, err := RegisterAll(reg, Deps{Logger: logger.NewDiscard()})
	assert.ErrorIs(t, err, task.ErrUnknownQueue)
}

func TestArithmetic(t *testing.T) {
	reg := task.NewRegistry([]string{"queue1", "queue2"})
	_, err := RegisterAll(reg, Deps{Logger: logger.NewDiscard()})
	require.NoError(t, err)

	tests := []struct {
		name     string
		task     string
		args     string
		want     any
		wantJSON string
		wantErr  error
	}{
		{name: "add ints", task: "add", args: `[2, 3]`, want: int64(5), wantJSON: `5`},
		{name: "add floats", task: "add", args: `[0.5, 0.25]`, want: 0.75, wantJSON: `0.75`},
		{name: "add beyond float precision", task: "add", args: `[9007199254740993, 1]`, want: int64(9007199254740994), wantJSON: `9007199254740994`},
		{name: "add overflow falls back to float", task: "add", args: `[9223372036854775807, 1]`, want: 9.223372036854775807e18, wantJSON: `9223372036854775808`},
		{name: "multiply", task: "multiply", args: `[4, 2.5]`, want: 10.0, wantJSON: `10`},
		{name: "multiply ints", task: "multiply", args: `[3037000499, 3037000499]`, want: int64(9223372030926249001), wantJSON: `9223372030926249001`},
		{name: "multiply negative", task: "multiply", args: `[-7, 6]`, want: int64(-42), wantJSON: `-42`},
		{name: "multiply by zero", task: "multiply", args: `[0, 5]`, want: int64(0), wantJSON: `0`},
		{name: "add missing arg", task: "add", args: `[2]`, wantErr: domain.ErrInvalidPayload},
		{name: "multiply string", task: "multiply", args: `["x", 2]`, wantErr: domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, reg, tt.task, tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			raw, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantJSON, string(raw))
		})
	}
}

func TestEvents_RecordAndCount(t *testing.T) {
	sessions := newSQLiteSessions(t, "main", "archive")
	reg := task.NewRegistry([]string{"queue1", "queue2"})
	ev, err := RegisterAll(reg, Deps{Sessions: sessions, BatchSize: 100, Logger: logger.NewDiscard()})
	require.NoError(t, err)
	require.NoError(t, ev.EnsureSchema(context.Background()))

	names := make([]string, 250)
	for i := range names {
		names[i] = fmt.Sprintf("event-%d", i)
	}
	raw, err := json.Marshal([]any{"main", names})
	require.NoError(t, err)

	got, err := run(t, reg, events.RecordTask, string(raw))
	require.NoError(t, err)
	assert.Equal(t, 250, got)

	got, err = run(t, reg, events.CountTask, `["main"]`)
	require.NoError(t, err)
	assert.Equal(t, 250, got)

	// databases are isolated from each other
	got, err = run(t, reg, events.CountTask, `["archive"]`)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	assert.Equal(t, 0, sessions.ActiveScopes("main"))
}

func TestEvents_Errors(t *testing.T) {
	sessions := newSQLiteSessions(t, "main")

	tests := []struct {
		name     string
		sessions *dbsession.ConnectionHandler
		task     string
		args     string
		wantErr  error
	}{
		{name: "unknown database", sessions: sessions, task: events.CountTask, args: `["billing"]`, wantErr: dbsession.ErrDatabaseNotConfigured},
		{name: "no session manager", sessions: nil, task: events.RecordTask, args: `["main", ["a"]]`, wantErr: dbsession.ErrNoDatabaseAvailable},
		{name: "bad args", sessions: sessions, task: events.RecordTask, args: `["main"]`, wantErr: domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := task.NewRegistry([]string{"queue1", "queue2"})
			_, err := RegisterAll(reg, Deps{Sessions: tt.sessions, Logger: logger.NewDiscard()})
			require.NoError(t, err)

			_, err = run(t, reg, tt.task, tt.args)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvents_EnsureSchemaWithoutSessions(t *testing.T) {
	ev := events.New(nil, 0, logger.NewDiscard())
	assert.NoError(t, ev.EnsureSchema(context.Background()))
}
