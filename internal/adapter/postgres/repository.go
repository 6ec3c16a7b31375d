// Package postgres implements the job repository on PostgreSQL for
// deployments where several processes share one job table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwygoda/extractd/internal/domain"
)

const uniqueViolation = "23505"

var schema = []string{`
CREATE TABLE IF NOT EXISTS extraction_requests (
    id              TEXT PRIMARY KEY,
    idempotency_key VARCHAR(255) NOT NULL,
    status          TEXT NOT NULL,
    document_text   TEXT NOT NULL,
    doc_type        TEXT,
    invoice_number  TEXT,
    invoice_date    TEXT,
    total_amount    DOUBLE PRECISION,
    currency        TEXT,
    error_code      TEXT,
    error_message   TEXT,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    CONSTRAINT uq_extraction_idempotency_key UNIQUE (idempotency_key)
)`,
	`CREATE INDEX IF NOT EXISTS ix_status_created_at ON extraction_requests(status, created_at)`,
}

const selectColumns = `SELECT id, idempotency_key, status, document_text,
       doc_type, invoice_number, invoice_date, total_amount, currency,
       error_code, error_message, created_at, updated_at
  FROM extraction_requests`

// Config holds pool settings.
type Config struct {
	DSN              string
	MaxConns         int32
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Repository implements domain.JobRepository using a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Repository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "extractd"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	logger.Info("connected to postgres", "max_conns", pc.MaxConns)
	return &Repository{pool: pool}, nil
}

// Close releases all pool connections.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extraction_requests (id, idempotency_key, status, document_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.IdempotencyKey, string(job.Status), job.DocumentText, job.CreatedAt, job.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDuplicateKey
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
}

func (r *Repository) GetByKey(ctx context.Context, key string) (*domain.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, selectColumns+` WHERE idempotency_key = $1`, key))
}

func (r *Repository) FindPending(ctx context.Context, limit int) ([]domain.Job, error) {
	query := selectColumns + ` WHERE status = $1 ORDER BY created_at ASC, id ASC`
	args := []any{string(domain.StatusPending)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *Repository) Complete(ctx context.Context, id string, f domain.Fields) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE extraction_requests
		    SET status = $1, doc_type = $2, invoice_number = $3, invoice_date = $4, total_amount = $5, currency = $6,
		        error_code = NULL, error_message = NULL, updated_at = $7
		  WHERE id = $8 AND status = $9`,
		string(domain.StatusCompleted), f.DocType, f.InvoiceNumber, f.InvoiceDate, f.TotalAmount, f.Currency,
		time.Now().UTC(), id, string(domain.StatusPending),
	)
	if err != nil {
		return err
	}
	return r.transitioned(ctx, tag, id)
}

func (r *Repository) Fail(ctx context.Context, id string, jobErr domain.JobError) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE extraction_requests
		    SET status = $1, doc_type = NULL, invoice_number = NULL, invoice_date = NULL, total_amount = NULL, currency = NULL,
		        error_code = $2, error_message = $3, updated_at = $4
		  WHERE id = $5 AND status = $6`,
		string(domain.StatusFailed), jobErr.Code, jobErr.Message, time.Now().UTC(), id, string(domain.StatusPending),
	)
	if err != nil {
		return err
	}
	return r.transitioned(ctx, tag, id)
}

func (r *Repository) transitioned(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrNotPending
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                             domain.Job
		status                          string
		docType, number, date, currency *string
		amount                          *float64
		errCode, errMessage             *string
	)
	err := row.Scan(&job.ID, &job.IdempotencyKey, &status, &job.DocumentText,
		&docType, &number, &date, &amount, &currency,
		&errCode, &errMessage, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	switch job.Status {
	case domain.StatusCompleted:
		job.Result = &domain.Fields{
			DocType:       docType,
			InvoiceNumber: number,
			InvoiceDate:   date,
			TotalAmount:   amount,
			Currency:      currency,
		}
	case domain.StatusFailed:
		job.Error = &domain.JobError{Code: deref(errCode), Message: deref(errMessage)}
	}
	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
