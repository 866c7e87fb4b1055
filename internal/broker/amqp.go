package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/taskworker/shared/rabbitmq"
)

const (
	defaultExchangeName = "taskworker"
	defaultExchangeType = "topic"
)

// amqpTransport routes every message through one topic exchange. Each queue
// is bound by its own name and by its routing pattern.
type amqpTransport struct {
	client      *rabbitmq.Client
	consumerTag string
	logger      *slog.Logger
}

func openAMQP(_ context.Context, rawURL string, opts OpenOptions, logger *slog.Logger) (Transport, error) {
	exchange := opts.Exchange
	if exchange.Name == "" {
		exchange.Name = defaultExchangeName
	}
	if exchange.Type == "" {
		exchange.Type = defaultExchangeType
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		URL:                rawURL,
		ExchangeName:       exchange.Name,
		ExchangeType:       exchange.Type,
		ExchangeDurable:    exchange.Durable,
		Queues:             bindings(opts.Queues),
		RetryAttempts:      opts.RetryAttempts,
		RetryInterval:      opts.RetryInterval,
		Heartbeat:          opts.Heartbeat,
		ConnectionTimeout:  opts.ConnectionTimeout,
		PublishRetries:     opts.PublishRetries,
		PublishRetryDelay:  opts.PublishRetryDelay,
		PublishBackoffMult: opts.PublishBackoffMult,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, RedactURL(rawURL), err)
	}

	tag := opts.ConsumerTag
	if tag == "" {
		tag = "taskworker-" + uuid.NewString()[:8]
	}

	return &amqpTransport{
		client:      client,
		consumerTag: tag,
		logger:      logger,
	}, nil
}

// bindings maps queue configs to durable queues with their routing keys
func bindings(queues []QueueConfig) []rabbitmq.QueueBinding {
	out := make([]rabbitmq.QueueBinding, 0, len(queues))
	for _, q := range queues {
		keys := []string{q.Name}
		if q.RoutingPattern != "" && q.RoutingPattern != q.Name {
			keys = append(keys, q.RoutingPattern)
		}
		out = append(out, rabbitmq.QueueBinding{
			Name:        q.Name,
			RoutingKeys: keys,
			Durable:     true,
		})
	}
	return out
}

func (t *amqpTransport) Declare(_ context.Context, queues []QueueConfig) error {
	return t.client.DeclareQueues(bindings(queues))
}

func (t *amqpTransport) Publish(ctx context.Context, queue string, msg Message) error {
	headers := make(amqp.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	return t.client.PublishWithRetry(ctx, queue, amqp.Publishing{
		ContentType: msg.ContentType,
		MessageId:   msg.ID,
		Headers:     headers,
		Body:        msg.Body,
	})
}

// prefetchWindow widens the channel QoS by one for every held delivery so
// ETA messages do not starve due ones
type prefetchWindow struct {
	mu   sync.Mutex
	qos  func(prefetch int) error
	base int
	held int
}

func (w *prefetchWindow) adjust(delta int) error {
	if w.base <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.held += delta
	return w.qos(w.base + w.held)
}

func (t *amqpTransport) Consume(ctx context.Context, queues []string, prefetch int) (<-chan Delivery, error) {
	if prefetch > 0 {
		if err := t.client.Qos(prefetch); err != nil {
			return nil, err
		}
	}
	window := &prefetchWindow{qos: t.client.Qos, base: prefetch}

	sources := make(map[string]<-chan amqp.Delivery, len(queues))
	tags := make([]string, 0, len(queues))
	for _, queue := range queues {
		tag := t.consumerTag + "." + queue
		msgs, err := t.client.Consume(queue, tag)
		if err != nil {
			for _, started := range tags {
				_ = t.client.Cancel(started)
			}
			return nil, err
		}
		sources[queue] = msgs
		tags = append(tags, tag)
	}

	out := make(chan Delivery)
	var wg sync.WaitGroup
	for queue, msgs := range sources {
		wg.Add(1)
		go func(queue string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			t.forward(ctx, queue, msgs, window, out)
		}(queue, msgs)
	}

	go func() {
		<-ctx.Done()
		for _, tag := range tags {
			if err := t.client.Cancel(tag); err != nil {
				t.logger.Warn("Failed to cancel consumer",
					slog.String("consumer_tag", tag),
					slog.Any("error", err),
				)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (t *amqpTransport) forward(ctx context.Context, queue string, msgs <-chan amqp.Delivery, window *prefetchWindow, out chan<- Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				t.logger.Info("Message channel closed", slog.String("queue", queue))
				return
			}

			d := t.delivery(queue, msg, window)

			select {
			case out <- d:
			case <-ctx.Done():
				_ = msg.Nack(false, true)
				return
			}
		}
	}
}

func (t *amqpTransport) delivery(queue string, msg amqp.Delivery, window *prefetchWindow) Delivery {
	var held atomic.Bool
	unhold := func() {
		if held.CompareAndSwap(true, false) {
			if err := window.adjust(-1); err != nil {
				t.logger.Warn("Failed to restore QoS", slog.Any("error", err))
			}
		}
	}

	d := NewDelivery(queue, msg.MessageId, msg.ContentType, msg.Body,
		func() error {
			defer unhold()
			return msg.Ack(false)
		},
		func(requeue bool) error {
			defer unhold()
			return msg.Nack(false, requeue)
		},
	)
	d.Redelivered = msg.Redelivered
	d.hold = func() error {
		if !held.CompareAndSwap(false, true) {
			return nil
		}
		return window.adjust(1)
	}
	return d
}

func (t *amqpTransport) Close() error {
	return t.client.Close()
}
