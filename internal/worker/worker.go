package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/metrics"
	"github.com/cuongbtq/taskworker/internal/task"
)

// DefaultJobTimeout bounds a task that sets no timeout of its own
const DefaultJobTimeout = 5 * time.Minute

// Dispatcher is the part of the dispatcher client the worker needs
type Dispatcher interface {
	Transport() broker.Transport
	Serializer() broker.Serializer
	Registry() *task.Registry
	StoreResult(ctx context.Context, r *backend.Result) error
	Retry(ctx context.Context, inv *domain.Invocation, delay time.Duration) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Dispatcher    Dispatcher
	Metrics       *metrics.Metrics
	Queues        []string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	WorkerID      string
}

// Worker consumes invocations from its queues and runs them on a fixed
// number of slots
type Worker struct {
	workerID      string
	logger        *slog.Logger
	dispatcher    Dispatcher
	registry      *task.Registry
	serializer    broker.Serializer
	metrics       *metrics.Metrics
	queues        []string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	now           func() time.Time

	jobsChan chan *domain.DeliveryMessage
	wg       sync.WaitGroup // worker slots
	heldWg   sync.WaitGroup // invocations waiting for their ETA
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("worker requires a dispatcher")
	}
	if len(cfg.Queues) == 0 {
		return nil, errors.New("worker requires at least one queue")
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	log := cfg.Logger.With(slog.String("worker_id", workerID))

	return &Worker{
		workerID:      workerID,
		logger:        log,
		dispatcher:    cfg.Dispatcher,
		registry:      cfg.Dispatcher.Registry(),
		serializer:    cfg.Dispatcher.Serializer(),
		metrics:       cfg.Metrics,
		queues:        cfg.Queues,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    jobTimeout,
		now:           time.Now,
		jobsChan:      make(chan *domain.DeliveryMessage),
	}, nil
}

// ID returns the worker identifier
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes until ctx is canceled, then drains: held ETA messages are
// requeued and running invocations finish before Start returns. Losing the
// broker connection drains the same way and returns broker.ErrTransportClosed.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("queues", w.queues),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	// slots outlive ctx so in-flight invocations can complete
	w.spawnWorkerPool(context.WithoutCancel(ctx))

	err = w.startMessageDispatcher(ctx, deliveries)

	// wakes held invocations when the transport went away
	cancel()
	w.heldWg.Wait()
	close(w.jobsChan)
	w.wg.Wait()

	if err != nil {
		w.logger.Error("Worker stopped", slog.String("error", err.Error()))
		return fmt.Errorf("consumer stopped: %w", err)
	}
	w.logger.Info("Worker stopped")
	return nil
}
