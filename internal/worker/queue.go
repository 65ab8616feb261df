// Package worker provides bounded in-process work queues.
package worker

import (
	"context"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

// Queue is a bounded multi-producer queue with a drop-newest policy:
// TryEnqueue never blocks and reports domain.ErrServiceBusy when the buffer is full.
type Queue[T any] struct {
	name  string
	items chan T
}

func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{name: name, items: make(chan T, capacity)}
}

func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Cap() int { return cap(q.items) }

func (q *Queue[T]) TryEnqueue(item T) error {
	select {
	case q.items <- item:
		return nil
	default:
		return domain.ErrServiceBusy
	}
}

// Next blocks until an item is available or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
