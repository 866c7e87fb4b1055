package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultMemoryBuffer = 1024

type memMessage struct {
	msg         Message
	redelivered bool
}

type memEnvelope struct {
	queue string
	ch    chan memMessage
	m     memMessage
}

// MemoryTransport is an in-process transport with one buffered channel per
// queue. It honors prefetch and requeue like a real broker, which makes it
// suitable for tests and single-process setups.
type MemoryTransport struct {
	mu     sync.RWMutex
	queues map[string]chan memMessage
	buffer int
	logger *slog.Logger

	unacked   atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryTransport creates an empty in-process transport
func NewMemoryTransport(buffer int, logger *slog.Logger) *MemoryTransport {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryTransport{
		queues: make(map[string]chan memMessage),
		buffer: buffer,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Declare creates the queues that do not exist yet
func (t *MemoryTransport) Declare(_ context.Context, queues []QueueConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, q := range queues {
		if q.Name == "" {
			return fmt.Errorf("queue name is required")
		}
		if _, ok := t.queues[q.Name]; !ok {
			t.queues[q.Name] = make(chan memMessage, t.buffer)
		}
	}
	return nil
}

func (t *MemoryTransport) queue(name string) (chan memMessage, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ch, ok := t.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotDeclared, name)
	}
	return ch, nil
}

// Publish enqueues msg, blocking while the queue is full
func (t *MemoryTransport) Publish(ctx context.Context, queue string, msg Message) error {
	ch, err := t.queue(queue)
	if err != nil {
		return err
	}

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	select {
	case ch <- memMessage{msg: msg}:
		t.logger.Debug("Message published to memory queue",
			slog.String("queue", queue),
			slog.String("message_id", msg.ID),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish canceled: %w", ctx.Err())
	case <-t.closed:
		return ErrTransportClosed
	}
}

// Consume fans in every queue onto one channel
func (t *MemoryTransport) Consume(ctx context.Context, queues []string, prefetch int) (<-chan Delivery, error) {
	chans := make(map[string]chan memMessage, len(queues))
	for _, name := range queues {
		ch, err := t.queue(name)
		if err != nil {
			return nil, err
		}
		chans[name] = ch
	}

	var sem chan struct{}
	if prefetch > 0 {
		sem = make(chan struct{}, prefetch)
	}

	merged := make(chan memEnvelope)
	for name, ch := range chans {
		go t.forward(ctx, name, ch, merged)
	}

	out := make(chan Delivery)
	go t.dispatch(ctx, merged, sem, out)

	return out, nil
}

// forward moves messages from one queue to the merged channel, returning any
// message in hand to its queue when the consumer stops
func (t *MemoryTransport) forward(ctx context.Context, queue string, ch chan memMessage, merged chan<- memEnvelope) {
	for {
		select {
		case m := <-ch:
			select {
			case merged <- memEnvelope{queue: queue, ch: ch, m: m}:
			case <-ctx.Done():
				t.requeue(ch, m)
				return
			case <-t.closed:
				return
			}
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		}
	}
}

func (t *MemoryTransport) dispatch(ctx context.Context, merged <-chan memEnvelope, sem chan struct{}, out chan<- Delivery) {
	defer close(out)

	release := func() {
		if sem != nil {
			<-sem
		}
	}

	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
		}

		var e memEnvelope
		select {
		case e = <-merged:
		case <-ctx.Done():
			release()
			return
		case <-t.closed:
			release()
			return
		}

		d := t.delivery(e, release)
		select {
		case out <- d:
		case <-ctx.Done():
			t.unacked.Add(-1)
			t.requeue(e.ch, e.m)
			release()
			return
		case <-t.closed:
			release()
			return
		}
	}
}

func (t *MemoryTransport) delivery(e memEnvelope, release func()) Delivery {
	t.unacked.Add(1)

	// a held delivery gives its prefetch slot back early
	free := sync.OnceFunc(release)

	var once sync.Once
	settle := func(fn func()) {
		once.Do(func() {
			t.unacked.Add(-1)
			fn()
			free()
		})
	}

	d := NewDelivery(e.queue, e.m.msg.ID, e.m.msg.ContentType, e.m.msg.Body,
		func() error {
			settle(func() {})
			return nil
		},
		func(requeue bool) error {
			settle(func() {
				if requeue {
					t.requeue(e.ch, e.m)
				}
			})
			return nil
		},
	)
	d.Redelivered = e.m.redelivered
	d.hold = func() error {
		free()
		return nil
	}
	return d
}

func (t *MemoryTransport) requeue(ch chan memMessage, m memMessage) {
	m.redelivered = true
	select {
	case ch <- m:
	default:
		go func() {
			select {
			case ch <- m:
			case <-t.closed:
			}
		}()
	}
}

// Len returns the number of messages waiting in queue
func (t *MemoryTransport) Len(queue string) int {
	ch, err := t.queue(queue)
	if err != nil {
		return 0
	}
	return len(ch)
}

// Unacked returns the number of delivered but unsettled messages
func (t *MemoryTransport) Unacked() int {
	return int(t.unacked.Load())
}

// Close stops every consumer; pending messages are dropped
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.logger.Info("Memory transport closed")
	})
	return nil
}
