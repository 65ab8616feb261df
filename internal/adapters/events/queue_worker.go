package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/worker"
)

// QueueWorker is the single consumer of one bounded work queue.
type QueueWorker[T any] struct {
	logger  *slog.Logger
	queue   *worker.Queue[T]
	handle  func(context.Context, T) error
	timeout time.Duration
	metrics *observability.Metrics
}

func NewQueueWorker[T any](
	logger *slog.Logger,
	queue *worker.Queue[T],
	handle func(context.Context, T) error,
	timeout time.Duration,
	metrics *observability.Metrics,
) *QueueWorker[T] {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QueueWorker[T]{
		logger:  logger,
		queue:   queue,
		handle:  handle,
		timeout: timeout,
		metrics: metrics,
	}
}

// Run consumes items until ctx is cancelled. Item failures are logged and dropped.
func (w *QueueWorker[T]) Run(ctx context.Context) error {
	for {
		item, err := w.queue.Next(ctx)
		if err != nil {
			return err
		}
		w.processOne(ctx, item)
	}
}

func (w *QueueWorker[T]) processOne(ctx context.Context, item T) {
	itemCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.safeHandle(itemCtx, item); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		w.metrics.QueueHandled(w.queue.Name(), "failure")
		w.logger.ErrorContext(ctx, "queue item failed",
			"module", "events.queue_worker",
			"layer", "adapter",
			"operation", "process_"+w.queue.Name(),
			"outcome", "failure",
			"queue_depth", w.queue.Len(),
			"error", err,
		)
		return
	}
	w.metrics.QueueHandled(w.queue.Name(), "success")
}

func (w *QueueWorker[T]) safeHandle(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handle(ctx, item)
}
