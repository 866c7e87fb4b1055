package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/taskworker/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs invocations one at a time until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range w.jobsChan {
		err := w.processInvocation(ctx, msg)

		// ACK or NACK based on processing result
		if err != nil {
			requeue := w.shouldRequeue(err)

			w.logger.Error("Task processing failed",
				slog.String("worker_name", workerName),
				slog.String("task_id", msg.Invocation.ID),
				slog.String("error", err.Error()),
				slog.Bool("requeue", requeue),
			)

			if nackErr := msg.Nack(requeue); nackErr != nil {
				w.logger.Error("Failed to NACK message",
					slog.String("worker_name", workerName),
					slog.String("task_id", msg.Invocation.ID),
					slog.String("error", nackErr.Error()),
				)
			}
			continue
		}

		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("task_id", msg.Invocation.ID),
				slog.String("error", ackErr.Error()),
			)
		}
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// shouldRequeue decides whether a message the worker could not settle goes back to its queue
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
