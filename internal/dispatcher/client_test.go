package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/shared/logger"
)

var testQueues = []broker.QueueConfig{
	{Name: "queue1", RoutingPattern: "worker.tasks.module1.tasks.#"},
	{Name: "queue2", RoutingPattern: "worker.tasks.module2.tasks.#"},
}

type fixture struct {
	client    *Client
	transport *broker.MemoryTransport
	results   *backend.MemoryBackend
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewDiscard()
	transport := broker.NewMemoryTransport(16, log)
	require.NoError(t, transport.Declare(context.Background(), append(testQueues, broker.QueueConfig{Name: "celery"})))

	registry := task.NewRegistry([]string{"queue1", "queue2"})
	noop := func(context.Context, task.Args) (any, error) { return nil, nil }
	require.NoError(t, registry.Register("add", "queue1", noop))
	require.NoError(t, registry.Register("multiply", "queue2", noop))

	serializer, err := broker.NewSerializer("json")
	require.NoError(t, err)

	f := &fixture{
		transport: transport,
		results:   backend.NewMemoryBackend(),
		now:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.client = NewClient(transport, f.results, serializer, registry, testQueues, log,
		WithClock(func() time.Time { return f.now }))
	t.Cleanup(func() { _ = f.client.Close() })
	return f
}

func (f *fixture) next(t *testing.T, queue string) *domain.Invocation {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deliveries, err := f.transport.Consume(ctx, []string{queue}, 1)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		require.NoError(t, d.Ack())
		inv, err := f.client.Serializer().Decode(d.ContentType, d.Body)
		require.NoError(t, err)
		return inv
	case <-ctx.Done():
		t.Fatalf("nothing published to %s", queue)
		return nil
	}
}

func TestClient_PublishRoutesToRegisteredQueue(t *testing.T) {
	f := newFixture(t)

	res, err := f.client.Publish(context.Background(), "add", []any{2, 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	inv := f.next(t, "queue1")
	assert.Equal(t, res.ID, inv.ID)
	assert.Equal(t, "add", inv.Task)
	assert.Equal(t, "queue1", inv.Queue)
	assert.JSONEq(t, `[2,3]`, string(inv.Args))
	assert.Equal(t, 0, inv.Retries)
	assert.Nil(t, inv.ETA)
	assert.Nil(t, inv.Expires)
	assert.True(t, f.now.Equal(inv.Timestamp))
}

func TestClient_PublishErrors(t *testing.T) {
	tests := []struct {
		name    string
		task    string
		args    json.RawMessage
		opts    []PublishOption
		wantErr error
	}{
		{
			name:    "unknown task",
			task:    "divide",
			args:    json.RawMessage(`[]`),
			wantErr: task.ErrTaskNotFound,
		},
		{
			name:    "queue outside allowed set",
			task:    "add",
			args:    json.RawMessage(`[1,2]`),
			opts:    []PublishOption{WithQueue("celery")},
			wantErr: ErrRoutingError,
		},
		{
			name:    "args not an array",
			task:    "add",
			args:    json.RawMessage(`{"x":1}`),
			wantErr: domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.client.PublishRaw(context.Background(), tt.task, tt.args, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.transport.Len("celery"))
		})
	}
}

func TestClient_PublishOptions(t *testing.T) {
	f := newFixture(t)
	eta := f.now.Add(time.Hour)

	_, err := f.client.Publish(context.Background(), "add", []any{1, 1},
		WithQueue("queue2"),
		WithTaskID("fixed-id"),
		WithETA(eta),
		WithExpires(2*time.Hour),
		WithMaxRetries(4),
	)
	require.NoError(t, err)

	inv := f.next(t, "queue2")
	assert.Equal(t, "fixed-id", inv.ID)
	require.NotNil(t, inv.ETA)
	assert.True(t, eta.Equal(*inv.ETA))
	require.NotNil(t, inv.Expires)
	assert.True(t, f.now.Add(2*time.Hour).Equal(*inv.Expires))
	require.NotNil(t, inv.MaxRetries)
	assert.Equal(t, 4, *inv.MaxRetries)
}

func TestClient_PublishCountdown(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Publish(context.Background(), "multiply", []any{3, 4}, WithCountdown(30*time.Second))
	require.NoError(t, err)

	inv := f.next(t, "queue2")
	require.NotNil(t, inv.ETA)
	assert.Equal(t, 30*time.Second, inv.Delay(f.now))
}

func TestClient_Retry(t *testing.T) {
	f := newFixture(t)

	inv := &domain.Invocation{ID: "r-1", Task: "add", Args: json.RawMessage(`[1,2]`), Queue: "queue1", Retries: 1}
	require.NoError(t, f.client.Retry(context.Background(), inv, 4*time.Second))

	got := f.next(t, "queue1")
	assert.Equal(t, "r-1", got.ID)
	assert.Equal(t, 2, got.Retries)
	require.NotNil(t, got.ETA)
	assert.True(t, f.now.Add(4*time.Second).Equal(*got.ETA))
	assert.Equal(t, 1, inv.Retries, "original invocation is not mutated")
}

func TestAsyncResult_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.client.Publish(ctx, "add", []any{2, 3})
	require.NoError(t, err)

	status, err := res.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, status)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.client.StoreResult(ctx, &backend.Result{TaskID: res.ID, Status: domain.TaskStatusStarted})
		time.Sleep(30 * time.Millisecond)
		_ = f.client.StoreResult(ctx, &backend.Result{TaskID: res.ID, Status: domain.TaskStatusSuccess, Result: json.RawMessage(`5`)})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := res.Get(waitCtx, 10*time.Millisecond)
	require.NoError(t, err)

	var value int
	require.NoError(t, got.Decode(&value))
	assert.Equal(t, 5, value)
}

func TestAsyncResult_GetTerminalErrors(t *testing.T) {
	tests := []struct {
		name    string
		result  backend.Result
		wantErr error
	}{
		{name: "failure", result: backend.Result{Status: domain.TaskStatusFailure, Error: "boom"}, wantErr: ErrTaskFailed},
		{name: "revoked", result: backend.Result{Status: domain.TaskStatusRevoked}, wantErr: ErrTaskRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			r := tt.result
			r.TaskID = "done"
			require.NoError(t, f.client.StoreResult(ctx, &r))

			got, err := f.client.AsyncResult("done").Get(ctx, time.Millisecond)
			assert.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, got)
			assert.Equal(t, tt.result.Status, got.Status)
		})
	}
}

func TestAsyncResult_GetHonorsContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	got, err := f.client.AsyncResult("never").Get(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, got)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}

func TestInitialize(t *testing.T) {
	registry := task.NewRegistry([]string{"queue1"})
	require.NoError(t, registry.Register("add", "queue1", func(context.Context, task.Args) (any, error) { return 5, nil }))

	cfg := Config{
		BrokerURL:  "memory://",
		BackendURL: "memory://",
		Serializer: "json",
		Queues:     []broker.QueueConfig{{Name: "queue1"}},
	}

	client, err := Initialize(context.Background(), cfg, registry, logger.NewDiscard())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, []string{"queue1"}, client.Queues())
	assert.True(t, client.Routes("queue1"))
	assert.False(t, client.Routes("queue2"))
	require.NoError(t, client.Ping(context.Background()))

	_, err = client.Publish(context.Background(), "add", []any{2, 3})
	require.NoError(t, err)

	cfg.Serializer = "pickle"
	_, err = Initialize(context.Background(), cfg, registry, logger.NewDiscard())
	assert.ErrorIs(t, err, broker.ErrUnsupportedSerializer)

	cfg.Serializer = "json"
	cfg.BackendURL = "redis://localhost/0"
	_, err = Initialize(context.Background(), cfg, registry, logger.NewDiscard())
	assert.ErrorIs(t, err, backend.ErrUnsupportedBackend)
}
