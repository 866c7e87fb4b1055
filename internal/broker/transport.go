// Package broker moves serialized invocations between producers and workers.
// A Transport is chosen from the broker URL scheme: amqp and amqps connect to
// RabbitMQ, memory keeps everything inside the current process.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

var (
	// ErrTransportUnavailable is returned when the broker cannot be reached
	ErrTransportUnavailable = errors.New("broker transport unavailable")

	// ErrUnsupportedScheme is returned for a broker URL with an unknown scheme
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")

	// ErrQueueNotDeclared is returned when publishing or consuming a queue the transport does not know
	ErrQueueNotDeclared = errors.New("queue not declared")

	// ErrTransportClosed is returned after Close
	ErrTransportClosed = errors.New("transport closed")
)

// QueueConfig is one queue the worker may consume from. RoutingPattern is an
// extra binding key on the topic exchange, for example worker.tasks.module1.tasks.#
type QueueConfig struct {
	Name           string
	RoutingPattern string
}

// Message is an outgoing serialized invocation
type Message struct {
	ID          string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// Delivery is a message handed to a consumer. It must be acked or nacked once.
type Delivery struct {
	Queue       string
	ID          string
	ContentType string
	Body        []byte
	Redelivered bool

	ack  func() error
	nack func(requeue bool) error
	hold func() error
}

// NewDelivery builds a delivery with its settlement callbacks
func NewDelivery(queue, id, contentType string, body []byte, ack func() error, nack func(bool) error) Delivery {
	return Delivery{
		Queue:       queue,
		ID:          id,
		ContentType: contentType,
		Body:        body,
		ack:         ack,
		nack:        nack,
	}
}

// Ack removes the message from its queue
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message; with requeue it becomes available again
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Hold takes the delivery out of the prefetch window while it waits for its
// ETA. It stays unacked and must still be settled with Ack or Nack.
func (d Delivery) Hold() error {
	if d.hold == nil {
		return nil
	}
	return d.hold()
}

// Transport is the broker connection used by producers and workers
type Transport interface {
	// Declare makes sure the queues exist and are routed
	Declare(ctx context.Context, queues []QueueConfig) error
	// Publish sends msg to queue
	Publish(ctx context.Context, queue string, msg Message) error
	// Consume delivers messages from all queues on one channel until ctx is done.
	// At most prefetch deliveries are outstanding, not counting held ones;
	// zero means unbounded.
	Consume(ctx context.Context, queues []string, prefetch int) (<-chan Delivery, error)
	Close() error
}

// ExchangeOptions describes the RabbitMQ exchange
type ExchangeOptions struct {
	Name    string
	Type    string
	Durable bool
}

// OpenOptions configures a transport
type OpenOptions struct {
	Exchange           ExchangeOptions
	Queues             []QueueConfig
	ConsumerTag        string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	// MemoryBuffer is the per-queue capacity of the in-process transport
	MemoryBuffer int
}

// Open connects to the broker named by rawURL and declares opts.Queues
func Open(ctx context.Context, rawURL string, opts OpenOptions, logger *slog.Logger) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	switch u.Scheme {
	case "amqp", "amqps":
		return openAMQP(ctx, rawURL, opts, logger)
	case "memory":
		t := NewMemoryTransport(opts.MemoryBuffer, logger)
		if err := t.Declare(ctx, opts.Queues); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// RedactURL hides the password of a broker or backend URL for logging
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
