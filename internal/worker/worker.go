package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

// Config holds the worker's retry and timing settings.
type Config struct {
	MaxRetries  int
	TaskTimeout time.Duration
	DequeueWait time.Duration
	StopGrace   time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		TaskTimeout: 60 * time.Second,
		DequeueWait: 500 * time.Millisecond,
		StopGrace:   2 * time.Second,
	}
}

// Worker drains the job queue and runs one extraction at a time.
type Worker struct {
	svc       *domain.JobService
	queue     domain.Queue
	extractor domain.Extractor
	cfg       Config
	retries   *retryPolicy
	logger    *slog.Logger

	stopping atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a new worker.
func New(svc *domain.JobService, queue domain.Queue, extractor domain.Extractor, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		svc:       svc,
		queue:     queue,
		extractor: extractor,
		cfg:       cfg,
		retries:   newRetryPolicy(cfg.MaxRetries),
		logger:    logger,
	}
}

// Start runs the worker loop in the background. Calling Start on a running
// worker has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		w.Run(ctx)
	}(w.done)
}

// Stop closes the queue to new work, wakes the loop and waits up to the
// configured grace period for it to exit. After the grace period the
// in-flight attempt is abandoned and its job stays PENDING.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopping.Store(true)
	if err := w.queue.Enqueue(ctx, domain.StopToken); err != nil && !errors.Is(err, domain.ErrQueueClosed) {
		w.logger.Warn("stop token not enqueued", "error", err)
	}
	if err := w.queue.Close(); err != nil {
		w.logger.Warn("close queue", "error", err)
	}

	w.mu.Lock()
	done, cancel := w.done, w.cancel
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	timer := time.NewTimer(w.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		w.logger.Warn("worker did not stop within grace period, cancelling", "grace", w.cfg.StopGrace)
	case <-ctx.Done():
	}
	cancel()
	<-done
	return nil
}

// Run consumes the queue until the context is cancelled, the queue is
// closed, or a stop token arrives during shutdown.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		"extractor", w.extractor.Name(),
		"max_retries", w.cfg.MaxRetries,
		"task_timeout", w.cfg.TaskTimeout,
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker shutting down")
			return
		}

		id, err := w.queue.Dequeue(ctx, w.cfg.DequeueWait)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrQueueEmpty):
			continue
		case errors.Is(err, domain.ErrQueueClosed), ctx.Err() != nil:
			w.logger.Info("worker shutting down")
			return
		default:
			w.logger.Error("dequeue failed", "error", err)
			w.pause(ctx)
			continue
		}

		if id == domain.StopToken {
			if w.stopping.Load() {
				w.logger.Info("worker shutting down")
				return
			}
			w.logger.Warn("ignoring stale stop token")
			continue
		}
		w.process(ctx, id)
	}
}

// pause backs off after a queue error so a broken backend is not hammered.
func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.cfg.DequeueWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	log := w.logger.With("request_id", id)

	job, err := w.svc.Get(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		log.Warn("job not found, skipping")
		w.retries.forget(id)
		return
	}
	if err != nil {
		log.Error("load job failed", "error", err)
		return
	}
	if job.Status != domain.StatusPending {
		log.Debug("job no longer pending, skipping", "status", job.Status)
		w.retries.forget(id)
		return
	}

	attempt := w.retries.next(id)
	log.Info("processing job", "attempt", attempt, "extractor", w.extractor.Name())

	start := time.Now()
	fields, err := runBounded(ctx, w.cfg.TaskTimeout, func(ctx context.Context) (domain.Fields, error) {
		return w.extractor.Extract(ctx, job.DocumentText)
	})
	elapsed := time.Since(start).Milliseconds()

	if err == nil {
		w.retries.forget(id)
		if err := w.svc.MarkComplete(ctx, id, fields); err != nil {
			log.Error("mark complete failed", "error", err)
			return
		}
		log.Info("job completed", "attempt", attempt, "elapsed_ms", elapsed)
		return
	}

	if ctx.Err() != nil {
		log.Info("attempt abandoned on shutdown, job left pending", "attempt", attempt)
		return
	}

	code, message := classify(err)
	attempt, retry := w.retries.record(id)
	if retry {
		log.Warn("attempt failed, retrying", "attempt", attempt, "code", code, "error", err, "elapsed_ms", elapsed)
		if err := w.queue.Enqueue(ctx, id); err != nil {
			log.Warn("retry not enqueued, job left pending", "error", err)
		}
		return
	}

	w.retries.forget(id)
	log.Error("job failed, retries exhausted", "attempts", attempt, "code", code, "error", err)
	if err := w.svc.MarkFailed(ctx, id, domain.JobError{Code: code, Message: message}); err != nil {
		log.Error("persist failure", "error", err)
	}
}
