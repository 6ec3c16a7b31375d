package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	addr := os.Getenv("EXTRACTD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXTRACTD_TEST_REDIS_ADDR not set")
	}

	key := fmt.Sprintf("extractd-test-%d", time.Now().UnixNano())
	q, err := New(context.Background(), addr, key)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		q.client.Del(context.Background(), key)
		q.Close()
	})
	return q
}

func TestQueue_FIFO(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"req_1", "req_2"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Len() = %d, %v, want 2", n, err)
	}

	for _, want := range []string{"req_1", "req_2"} {
		got, err := q.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got != want {
			t.Errorf("Dequeue() = %q, want %q", got, want)
		}
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := setupTestQueue(t)

	if _, err := q.Dequeue(context.Background(), time.Second); !errors.Is(err, domain.ErrQueueEmpty) {
		t.Errorf("Dequeue() error = %v, want %v", err, domain.ErrQueueEmpty)
	}
}

func TestQueue_Close(t *testing.T) {
	q := setupTestQueue(t)
	q.Close()

	if err := q.Enqueue(context.Background(), "req_x"); !errors.Is(err, domain.ErrQueueClosed) {
		t.Errorf("Enqueue() after Close error = %v, want %v", err, domain.ErrQueueClosed)
	}
	if _, err := q.Dequeue(context.Background(), time.Second); !errors.Is(err, domain.ErrQueueClosed) {
		t.Errorf("Dequeue() after Close error = %v, want %v", err, domain.ErrQueueClosed)
	}
}
