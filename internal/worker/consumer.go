package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/domain"
)

// setupConsumer subscribes to every queue with the configured prefetch
func (w *Worker) setupConsumer(ctx context.Context) (<-chan broker.Delivery, error) {
	deliveries, err := w.dispatcher.Transport().Consume(ctx, w.queues, w.prefetchCount)
	if err != nil {
		return nil, err
	}

	w.logger.Info("Consumer started",
		slog.Any("queues", w.queues),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool.
// It returns broker.ErrTransportClosed when the transport stops delivering
// before ctx is canceled.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan broker.Delivery) error {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Delivery channel closed, broker connection lost")
				return broker.ErrTransportClosed
			}

			inv, err := w.serializer.Decode(delivery.ContentType, delivery.Body)
			if err != nil {
				w.logger.Error("Failed to decode message",
					slog.String("queue", delivery.Queue),
					slog.String("message_id", delivery.ID),
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages are dropped, not redelivered
				if nackErr := delivery.Nack(false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &domain.DeliveryMessage{
				Invocation: inv,
				Queue:      delivery.Queue,
				Ack:        delivery.Ack,
				Nack:       delivery.Nack,
				Hold:       delivery.Hold,
			}

			if delay := inv.Delay(w.now()); delay > 0 && !inv.IsExpired(w.now()) {
				w.hold(ctx, msg, delay)
				continue
			}

			if !w.dispatch(ctx, msg) {
				return nil
			}
		}
	}
}

// dispatch sends msg to a free slot; on shutdown it requeues msg and reports false
func (w *Worker) dispatch(ctx context.Context, msg *domain.DeliveryMessage) bool {
	select {
	case w.jobsChan <- msg:
		w.logger.Debug("Task dispatched to worker pool",
			slog.String("task_id", msg.Invocation.ID),
			slog.String("task", msg.Invocation.Task),
			slog.String("queue", msg.Queue),
		)
		return true
	case <-ctx.Done():
		w.logger.Info("Message dispatcher stopped while dispatching task")
		w.requeue(msg)
		return false
	}
}

// hold keeps msg unacked until its ETA, then dispatches it
func (w *Worker) hold(ctx context.Context, msg *domain.DeliveryMessage, delay time.Duration) {
	w.logger.Info("Task held until ETA",
		slog.String("task_id", msg.Invocation.ID),
		slog.String("task", msg.Invocation.Task),
		slog.Duration("delay", delay),
	)

	if msg.Hold != nil {
		if err := msg.Hold(); err != nil {
			w.logger.Warn("Failed to release prefetch slot for held task",
				slog.String("task_id", msg.Invocation.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.heldWg.Add(1)
	go func() {
		defer w.heldWg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			w.dispatch(ctx, msg)
		case <-ctx.Done():
			w.requeue(msg)
		}
	}()
}

func (w *Worker) requeue(msg *domain.DeliveryMessage) {
	if err := msg.Nack(true); err != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("task_id", msg.Invocation.ID),
			slog.String("error", err.Error()),
		)
	}
}
