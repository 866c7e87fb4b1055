// Package task holds the registry mapping task names to their handler and
// target queue. Registration happens once at startup; lookups afterwards are
// read-only and safe from any worker slot.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateTaskName is returned when a task name is registered twice
	ErrDuplicateTaskName = errors.New("duplicate task name")

	// ErrUnknownQueue is returned when a task targets a queue outside the allowed set
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrTaskNotFound is returned when no task is registered under a name
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidDefinition is returned for an empty name or a nil handler
	ErrInvalidDefinition = errors.New("invalid task definition")
)

const (
	// DefaultRetryDelay is the base backoff between retries
	DefaultRetryDelay = time.Second
	// DefaultRetryDelayMax caps the exponential backoff
	DefaultRetryDelayMax = 60 * time.Second
)

// Handler executes one invocation. The returned value must be JSON-encodable.
// Wrap an error with domain.NewRetryableError to request a retry.
type Handler func(ctx context.Context, args Args) (any, error)

// Definition is an immutable registered task
type Definition struct {
	Name          string
	Queue         string
	Handler       Handler
	MaxRetries    int
	RetryDelay    time.Duration
	RetryDelayMax time.Duration
	Timeout       time.Duration
}

// Backoff returns the delay before retry number retries+1
func (d Definition) Backoff(retries int) time.Duration {
	if d.RetryDelay <= 0 {
		return 0
	}
	if retries > 30 {
		retries = 30
	}
	delay := d.RetryDelay * time.Duration(uint(1)<<uint(retries))
	if d.RetryDelayMax > 0 && delay > d.RetryDelayMax {
		delay = d.RetryDelayMax
	}
	return delay
}

// Option customizes a Definition at registration
type Option func(*Definition)

// WithMaxRetries sets how many times a transient failure is retried
func WithMaxRetries(n int) Option {
	return func(d *Definition) {
		if n >= 0 {
			d.MaxRetries = n
		}
	}
}

// WithRetryDelay sets the base backoff; zero retries immediately
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Definition) {
		d.RetryDelay = delay
	}
}

// WithRetryDelayMax caps the exponential backoff
func WithRetryDelayMax(delay time.Duration) Option {
	return func(d *Definition) {
		d.RetryDelayMax = delay
	}
}

// WithTimeout bounds a single execution; zero uses the worker default
func WithTimeout(timeout time.Duration) Option {
	return func(d *Definition) {
		d.Timeout = timeout
	}
}

// Registry maps task names to definitions
type Registry struct {
	mu     sync.RWMutex
	queues map[string]struct{}
	tasks  map[string]Definition
}

// NewRegistry creates a registry accepting tasks for the given queues only
func NewRegistry(allowedQueues []string) *Registry {
	queues := make(map[string]struct{}, len(allowedQueues))
	for _, q := range allowedQueues {
		queues[q] = struct{}{}
	}

	return &Registry{
		queues: queues,
		tasks:  make(map[string]Definition),
	}
}

// Register associates name with queue and handler
func (r *Registry) Register(name, queue string, handler Handler, opts ...Option) error {
	if name == "" || handler == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidDefinition)
	}

	def := Definition{
		Name:          name,
		Queue:         queue,
		Handler:       handler,
		RetryDelay:    DefaultRetryDelay,
		RetryDelayMax: DefaultRetryDelayMax,
	}
	for _, opt := range opts {
		opt(&def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskName, name)
	}
	if _, ok := r.queues[queue]; !ok {
		return fmt.Errorf("%w: task %s targets %q", ErrUnknownQueue, name, queue)
	}

	r.tasks[name] = def
	return nil
}

// Lookup returns the definition registered under name
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.tasks[name]
	r.mu.RUnlock()

	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return def, nil
}

// HasQueue reports whether queue is in the allowed set
func (r *Registry) HasQueue(queue string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.queues[queue]
	return ok
}

// Names returns every registered task name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
