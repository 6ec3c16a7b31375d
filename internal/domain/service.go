package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

const maxKeyLength = 255

// JobService orchestrates job operations.
type JobService struct {
	repo   JobRepository
	queue  Enqueuer
	logger *slog.Logger

	pollAttempts int
	pollDelay    time.Duration

	inflight singleflight.Group
}

// Option configures a JobService.
type Option func(*JobService)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *JobService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollWindow sets how often and how long Await re-reads a PENDING job.
func WithPollWindow(attempts int, delay time.Duration) Option {
	return func(s *JobService) {
		if attempts >= 0 {
			s.pollAttempts = attempts
		}
		if delay >= 0 {
			s.pollDelay = delay
		}
	}
}

// NewJobService creates a new JobService.
func NewJobService(repo JobRepository, queue Enqueuer, opts ...Option) *JobService {
	s := &JobService{
		repo:         repo,
		queue:        queue,
		logger:       slog.Default(),
		pollAttempts: 3,
		pollDelay:    time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidateSubmission checks the submit payload shape.
func ValidateSubmission(key, text string) error {
	n := utf8.RuneCountInString(key)
	if n == 0 {
		return &ValidationError{Field: "idempotency_key", Reason: "is required"}
	}
	if n > maxKeyLength {
		return &ValidationError{Field: "idempotency_key", Reason: fmt.Sprintf("must be at most %d characters", maxKeyLength)}
	}
	if text == "" {
		return &ValidationError{Field: "document_text", Reason: "is required"}
	}
	return nil
}

// Submit returns the job owning key, creating and enqueueing it when none
// exists yet. Concurrent submissions of the same key resolve to one job.
func (s *JobService) Submit(ctx context.Context, key, text string) (*Job, error) {
	if err := ValidateSubmission(key, text); err != nil {
		return nil, err
	}
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.submit(ctx, key, text)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Job), nil
}

func (s *JobService) submit(ctx context.Context, key, text string) (*Job, error) {
	existing, err := s.repo.GetByKey(ctx, key)
	if err == nil {
		s.logger.Info("idempotent hit", "request_id", existing.ID, "status", existing.Status, "idempotency_key", key)
		return existing, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:             NewRequestID(),
		IdempotencyKey: key,
		Status:         StatusPending,
		DocumentText:   text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, fmt.Errorf("create job: %w", err)
		}
		// Lost the race on the unique key; the winner owns the submission.
		winner, gerr := s.repo.GetByKey(ctx, key)
		if gerr != nil {
			return nil, fmt.Errorf("reload winner for idempotency key: %w", gerr)
		}
		s.logger.Info("race detected, returning winner", "request_id", winner.ID, "status", winner.Status, "idempotency_key", key)
		return winner, nil
	}
	s.logger.Info("job created", "request_id", job.ID, "idempotency_key", key)

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The job stays PENDING and is picked up by RecoverPending on next start.
		s.logger.Warn("job persisted but not enqueued", "request_id", job.ID, "error", err)
		return job, nil
	}
	s.logger.Info("job enqueued", "request_id", job.ID)
	return job, nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Await returns the job, re-reading a PENDING job up to the configured number
// of times before giving up and returning it as PENDING.
func (s *JobService) Await(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || s.pollAttempts == 0 {
		return job, nil
	}

	s.logger.Debug("job pending, polling", "request_id", id, "attempts", s.pollAttempts, "delay", s.pollDelay)
	timer := time.NewTimer(s.pollDelay)
	defer timer.Stop()
	for i := 0; i < s.pollAttempts; i++ {
		if i > 0 {
			timer.Reset(s.pollDelay)
		}
		select {
		case <-ctx.Done():
			return job, nil
		case <-timer.C:
		}
		job, err = s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			s.logger.Debug("job settled during polling", "request_id", id, "status", job.Status)
			return job, nil
		}
	}
	return job, nil
}

// GetPending retrieves pending jobs up to the limit.
func (s *JobService) GetPending(ctx context.Context, limit int) ([]Job, error) {
	return s.repo.FindPending(ctx, limit)
}

// MarkComplete stores the extraction result and completes the job.
func (s *JobService) MarkComplete(ctx context.Context, id string, fields Fields) error {
	return s.repo.Complete(ctx, id, fields)
}

// MarkFailed marks a job as permanently failed.
func (s *JobService) MarkFailed(ctx context.Context, id string, jobErr JobError) error {
	return s.repo.Fail(ctx, id, jobErr)
}

// RecoverPending re-enqueues every PENDING job. Queue contents do not survive
// a restart, so this runs once at startup before the worker begins.
func (s *JobService) RecoverPending(ctx context.Context) (int, error) {
	jobs, err := s.repo.FindPending(ctx, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", job.ID, err)
		}
		n++
	}
	return n, nil
}
