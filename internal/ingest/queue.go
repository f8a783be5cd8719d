package ingest

import (
	"context"
	"sync"

	"main/internal/model"
	"main/pkg/exception"
)

// Queue is a bounded, non-blocking bar-update queue. Each subscription
// owns one queue drained by a single consumer, which makes backpressure
// and per-key ordering explicit.
type Queue struct {
	mu     sync.Mutex
	ch     chan model.Bar
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.Bar, capacity)}
}

// TryPublish enqueues an update without blocking. A full queue drops the
// update with ErrQueueFull; the next feed update for the key self-heals.
// The mutex keeps the send mutually exclusive with Close, so a publish
// racing a teardown never hits a closed channel.
func (q *Queue) TryPublish(bar model.Bar) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- bar:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Close stops the queue from accepting new updates.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run applies updates in delivery order until the context is done or the
// queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(model.Bar)) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-q.ch:
			if !ok {
				return
			}
			handler(bar)
		}
	}
}
