// Package redisqueue implements the work queue on a Redis list so that
// queued job identifiers survive a process restart.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cwygoda/extractd/internal/domain"
)

// Queue implements domain.Queue with LPUSH/BRPOP on a single list.
type Queue struct {
	client *redis.Client
	key    string
	closed atomic.Bool
}

// New connects to the Redis server at addr and verifies it answers.
func New(ctx context.Context, addr, key string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Queue{client: rdb, key: key}, nil
}

// Enqueue pushes id onto the list head; Dequeue pops from the tail.
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	if q.closed.Load() {
		return domain.ErrQueueClosed
	}
	return q.client.LPush(ctx, q.key, id).Err()
}

// Dequeue blocks up to wait for an item. Redis rounds waits below one second
// up to one second.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	if q.closed.Load() {
		return "", domain.ErrQueueClosed
	}
	vals, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrQueueEmpty
	}
	if err != nil {
		if q.closed.Load() {
			return "", domain.ErrQueueClosed
		}
		return "", err
	}
	if len(vals) < 2 {
		return "", fmt.Errorf("unexpected BRPOP response: %v", vals)
	}
	return vals[1], nil
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close rejects further items and closes the client.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}
