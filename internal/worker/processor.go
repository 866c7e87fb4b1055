package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
)

// processInvocation runs one invocation through its states and records each
// transition in the result backend. A nil return means the message is settled
// and can be acked; a RetryableError asks for a requeue.
func (w *Worker) processInvocation(ctx context.Context, msg *domain.DeliveryMessage) error {
	inv := msg.Invocation

	w.logger.Info("Processing task",
		slog.String("task_id", inv.ID),
		slog.String("task", inv.Task),
		slog.String("queue", msg.Queue),
		slog.Int("retries", inv.Retries),
	)

	if inv.IsExpired(w.now()) {
		w.logger.Warn("Task expired before execution, revoking",
			slog.String("task_id", inv.ID),
			slog.String("task", inv.Task),
		)
		w.storeResult(ctx, inv, domain.TaskStatusRevoked, nil, domain.ErrInvocationExpired.Error())
		w.metrics.Processed(inv.Task, msg.Queue, domain.TaskStatusRevoked)
		return nil
	}

	def, err := w.registry.Lookup(inv.Task)
	if err != nil {
		w.fail(ctx, msg, err)
		return nil
	}

	args, err := task.NewArgs(inv.Args)
	if err != nil {
		w.fail(ctx, msg, err)
		return nil
	}

	w.storeResult(ctx, inv, domain.TaskStatusStarted, nil, "")

	timeout := w.jobTimeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := w.metrics.Started(inv.Task, msg.Queue)
	value, err := w.executeTask(jobCtx, def, args)
	done()

	if err == nil {
		var result json.RawMessage
		result, err = json.Marshal(value)
		if err != nil {
			err = fmt.Errorf("task %s returned a value that is not JSON encodable: %w", inv.Task, err)
			w.fail(ctx, msg, err)
			return nil
		}

		w.logger.Info("Task completed successfully",
			slog.String("task_id", inv.ID),
			slog.String("task", inv.Task),
		)
		w.storeResult(ctx, inv, domain.TaskStatusSuccess, result, "")
		w.metrics.Processed(inv.Task, msg.Queue, domain.TaskStatusSuccess)
		return nil
	}

	if !IsRetryable(err) {
		w.fail(ctx, msg, err)
		return nil
	}

	limit := maxRetries(inv, def)
	if inv.Retries >= limit {
		w.logger.Warn("Task exceeded max retries",
			slog.String("task_id", inv.ID),
			slog.Int("retries", inv.Retries),
			slog.Int("max_retries", limit),
		)
		w.fail(ctx, msg, fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err))
		return nil
	}

	delay := def.Backoff(inv.Retries)
	w.logger.Info("Task will be retried",
		slog.String("task_id", inv.ID),
		slog.String("task", inv.Task),
		slog.Int("retries", inv.Retries),
		slog.Int("max_retries", limit),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()),
	)

	w.storeResult(ctx, inv, domain.TaskStatusRetry, nil, err.Error())
	if retryErr := w.dispatcher.Retry(ctx, inv, delay); retryErr != nil {
		// the original message goes back unchanged
		return domain.NewRetryableError(retryErr)
	}
	w.metrics.Retried(inv.Task, msg.Queue)
	return nil
}

// executeTask calls the handler, turning a panic into ErrTaskPanicked
func (w *Worker) executeTask(ctx context.Context, def task.Definition, args task.Args) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Task panicked",
				slog.String("task", def.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			value = nil
			err = fmt.Errorf("%w: %v", domain.ErrTaskPanicked, r)
		}
	}()

	value, err = def.Handler(ctx, args)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("task %s timed out: %w: %v", def.Name, context.DeadlineExceeded, err)
	}
	return value, err
}

// fail records a terminal FAILURE
func (w *Worker) fail(ctx context.Context, msg *domain.DeliveryMessage, err error) {
	inv := msg.Invocation
	w.logger.Error("Task failed",
		slog.String("task_id", inv.ID),
		slog.String("task", inv.Task),
		slog.String("args", string(inv.Args)),
		slog.Int("retries", inv.Retries),
		slog.String("error", err.Error()),
	)
	w.storeResult(ctx, inv, domain.TaskStatusFailure, nil, err.Error())
	w.metrics.Processed(inv.Task, msg.Queue, domain.TaskStatusFailure)
}

// storeResult writes a status transition; a backend failure is logged and
// does not change how the message is settled
func (w *Worker) storeResult(ctx context.Context, inv *domain.Invocation, status string, result json.RawMessage, errorMsg string) {
	r := &backend.Result{
		TaskID:   inv.ID,
		TaskName: inv.Task,
		Queue:    inv.Queue,
		Status:   status,
		Result:   result,
		Error:    errorMsg,
		Retries:  inv.Retries,
	}
	if domain.IsTerminalStatus(status) {
		done := time.Now().UTC()
		r.DateDone = &done
	}

	if err := w.dispatcher.StoreResult(ctx, r); err != nil {
		w.logger.Error("Failed to store task result",
			slog.String("task_id", inv.ID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}
