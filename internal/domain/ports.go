package domain

import (
	"context"
	"time"
)

// StopToken is the reserved queue value that wakes the worker for shutdown.
const StopToken = "__STOP__"

// JobRepository is the driven port for job persistence.
//
// Create returns ErrDuplicateKey when another job already owns the
// idempotency key. Complete and Fail only apply to PENDING jobs and return
// ErrNotPending otherwise. FindPending returns oldest first; a limit <= 0
// means no limit.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	GetByKey(ctx context.Context, key string) (*Job, error)
	FindPending(ctx context.Context, limit int) ([]Job, error)
	Complete(ctx context.Context, id string, fields Fields) error
	Fail(ctx context.Context, id string, jobErr JobError) error
}

// Enqueuer accepts job identifiers for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string) error
}

// Queue is the FIFO hand-off between request handling and the worker.
//
// Dequeue waits up to wait for an item and returns ErrQueueEmpty when none
// arrived, or ErrQueueClosed once the queue is closed and drained.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context, wait time.Duration) (string, error)
	Close() error
}

// Extractor turns document text into structured fields.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, text string) (Fields, error)
}
