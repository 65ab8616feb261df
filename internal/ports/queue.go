package ports

// WorkQueue is the producer side of a bounded background queue.
// TryEnqueue must not block; a full queue yields domain.ErrServiceBusy.
type WorkQueue[T any] interface {
	TryEnqueue(item T) error
}
