// Package dispatcher is the producer side of the task system: it serializes
// invocations, routes them to a queue and reads results back.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/metrics"
	"github.com/cuongbtq/taskworker/internal/task"
)

// ErrRoutingError is returned when an invocation targets a queue no worker consumes
var ErrRoutingError = errors.New("routing error")

// Config names the broker and backend the client connects to
type Config struct {
	BrokerURL  string
	BackendURL string
	Serializer string
	Queues     []broker.QueueConfig
	// Broker carries connection and publish settings; its Queues are replaced by Queues
	Broker broker.OpenOptions
}

// Client publishes invocations and reads their results
type Client struct {
	transport  broker.Transport
	backend    backend.Backend
	serializer broker.Serializer
	registry   *task.Registry
	queues     map[string]struct{}
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithMetrics records published invocations
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// Initialize opens the broker and the result backend named in cfg
func Initialize(ctx context.Context, cfg Config, registry *task.Registry, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	serializer, err := broker.NewSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	openOpts := cfg.Broker
	openOpts.Queues = cfg.Queues
	transport, err := broker.Open(ctx, cfg.BrokerURL, openOpts, logger)
	if err != nil {
		return nil, err
	}

	results, err := backend.Open(ctx, cfg.BackendURL, logger)
	if err != nil {
		transport.Close()
		return nil, err
	}

	logger.Info("Dispatcher initialized",
		slog.String("broker", broker.RedactURL(cfg.BrokerURL)),
		slog.String("backend", broker.RedactURL(cfg.BackendURL)),
		slog.String("serializer", serializer.Name()),
		slog.Int("queues", len(cfg.Queues)),
	)

	return NewClient(transport, results, serializer, registry, cfg.Queues, logger, opts...), nil
}

// NewClient builds a client over an already opened transport and backend
func NewClient(
	transport broker.Transport,
	results backend.Backend,
	serializer broker.Serializer,
	registry *task.Registry,
	queues []broker.QueueConfig,
	logger *slog.Logger,
	opts ...ClientOption,
) *Client {
	allowed := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		allowed[q.Name] = struct{}{}
	}

	c := &Client{
		transport:  transport,
		backend:    results,
		serializer: serializer,
		registry:   registry,
		queues:     allowed,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type publishOptions struct {
	queue      string
	taskID     string
	countdown  time.Duration
	eta        *time.Time
	expires    *time.Time
	expiresIn  time.Duration
	maxRetries *int
}

// PublishOption customizes one publish call
type PublishOption func(*publishOptions)

// WithQueue overrides the queue the task was registered with
func WithQueue(queue string) PublishOption {
	return func(o *publishOptions) { o.queue = queue }
}

// WithTaskID sets the invocation id instead of a generated uuid
func WithTaskID(id string) PublishOption {
	return func(o *publishOptions) { o.taskID = id }
}

// WithCountdown delays execution by d
func WithCountdown(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.countdown = d }
}

// WithETA delays execution until t
func WithETA(t time.Time) PublishOption {
	return func(o *publishOptions) { o.eta = &t }
}

// WithExpires revokes the invocation if it has not started within d
func WithExpires(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.expiresIn = d }
}

// WithExpiresAt revokes the invocation if it has not started by t
func WithExpiresAt(t time.Time) PublishOption {
	return func(o *publishOptions) { o.expires = &t }
}

// WithMaxRetries overrides the registered retry budget for this invocation
func WithMaxRetries(n int) PublishOption {
	return func(o *publishOptions) { o.maxRetries = &n }
}

// Publish sends task name with positional args to its queue
func (c *Client) Publish(ctx context.Context, name string, args []any, opts ...PublishOption) (*AsyncResult, error) {
	raw, err := task.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	return c.PublishRaw(ctx, name, raw, opts...)
}

// PublishRaw sends task name with args already encoded as a JSON array
func (c *Client) PublishRaw(ctx context.Context, name string, args json.RawMessage, opts ...PublishOption) (*AsyncResult, error) {
	def, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	parsed, err := task.NewArgs(args)
	if err != nil {
		return nil, err
	}

	o := publishOptions{queue: def.Queue}
	for _, opt := range opts {
		opt(&o)
	}

	if !c.Routes(o.queue) {
		return nil, fmt.Errorf("%w: task %s targets queue %q which no worker consumes", ErrRoutingError, name, o.queue)
	}

	now := c.now().UTC()
	inv := &domain.Invocation{
		ID:         o.taskID,
		Task:       name,
		Args:       parsed.Raw(),
		Queue:      o.queue,
		MaxRetries: o.maxRetries,
		Timestamp:  now,
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	switch {
	case o.eta != nil:
		eta := o.eta.UTC()
		inv.ETA = &eta
	case o.countdown > 0:
		eta := now.Add(o.countdown)
		inv.ETA = &eta
	}

	switch {
	case o.expires != nil:
		expires := o.expires.UTC()
		inv.Expires = &expires
	case o.expiresIn > 0:
		expires := now.Add(o.expiresIn)
		inv.Expires = &expires
	}

	if err := c.send(ctx, inv); err != nil {
		return nil, err
	}

	c.logger.Info("Task published",
		slog.String("task_id", inv.ID),
		slog.String("task", name),
		slog.String("queue", inv.Queue),
	)

	return &AsyncResult{ID: inv.ID, client: c}, nil
}

// Retry re-publishes inv with its retry count incremented, due after delay
func (c *Client) Retry(ctx context.Context, inv *domain.Invocation, delay time.Duration) error {
	var eta time.Time
	if delay > 0 {
		eta = c.now().UTC().Add(delay)
	}
	next := inv.NextAttempt(eta)

	if err := c.send(ctx, next); err != nil {
		return fmt.Errorf("failed to republish task %s: %w", inv.ID, err)
	}

	c.logger.Info("Task scheduled for retry",
		slog.String("task_id", inv.ID),
		slog.String("task", inv.Task),
		slog.Int("retries", next.Retries),
		slog.Duration("delay", delay),
	)
	return nil
}

func (c *Client) send(ctx context.Context, inv *domain.Invocation) error {
	body, err := c.serializer.Encode(inv)
	if err != nil {
		return err
	}

	err = c.transport.Publish(ctx, inv.Queue, broker.Message{
		ID:          inv.ID,
		ContentType: c.serializer.ContentType(),
		Body:        body,
		Headers: map[string]string{
			"id":      inv.ID,
			"task":    inv.Task,
			"retries": strconv.Itoa(inv.Retries),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", inv.Task, err)
	}

	c.metrics.Published(inv.Task, inv.Queue)
	return nil
}

// Routes reports whether queue is in the allowed set
func (c *Client) Routes(queue string) bool {
	_, ok := c.queues[queue]
	return ok
}

// Queues returns the allowed queue names, sorted
func (c *Client) Queues() []string {
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AsyncResult returns a handle for a previously published id
func (c *Client) AsyncResult(taskID string) *AsyncResult {
	return &AsyncResult{ID: taskID, client: c}
}

// StoreResult writes r to the result backend
func (c *Client) StoreResult(ctx context.Context, r *backend.Result) error {
	return c.backend.Store(ctx, r)
}

// Result reads the stored result for taskID
func (c *Client) Result(ctx context.Context, taskID string) (*backend.Result, error) {
	return c.backend.Get(ctx, taskID)
}

// Serializer returns the wire serializer
func (c *Client) Serializer() broker.Serializer {
	return c.serializer
}

// Transport returns the broker transport, shared with the worker
func (c *Client) Transport() broker.Transport {
	return c.transport
}

// Registry returns the task registry
func (c *Client) Registry() *task.Registry {
	return c.registry
}

// Ping checks the result backend
func (c *Client) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Close closes the transport and the backend
func (c *Client) Close() error {
	return errors.Join(c.transport.Close(), c.backend.Close())
}
