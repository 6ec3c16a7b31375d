// Package memqueue provides an unbounded in-process FIFO of job identifiers.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

// Queue implements domain.Queue. Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Enqueue appends id to the tail of the queue.
func (q *Queue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue pops the head of the queue, waiting up to wait for an item.
// Items queued before Close are still handed out.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", domain.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", domain.ErrQueueEmpty
		case <-q.ready:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new items and wakes any waiting consumer.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
