package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cwygoda/extractd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_requests (
    id              TEXT PRIMARY KEY,
    idempotency_key TEXT NOT NULL,
    status          TEXT NOT NULL,
    document_text   TEXT NOT NULL,
    doc_type        TEXT,
    invoice_number  TEXT,
    invoice_date    TEXT,
    total_amount    REAL,
    currency        TEXT,
    error_code      TEXT,
    error_message   TEXT,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    CONSTRAINT uq_extraction_idempotency_key UNIQUE (idempotency_key)
);
CREATE INDEX IF NOT EXISTS ix_status_created_at ON extraction_requests(status, created_at);
`

const selectColumns = `SELECT id, idempotency_key, status, document_text,
       doc_type, invoice_number, invoice_date, total_amount, currency,
       error_code, error_message, created_at, updated_at
  FROM extraction_requests`

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers; each statement is its own
	// short transaction scoped to one job.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new PENDING job.
func (r *Repository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extraction_requests (id, idempotency_key, status, document_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.IdempotencyKey, job.Status, job.DocumentText, job.CreatedAt, job.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateKey
	}
	return err
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
}

// GetByKey retrieves the job owning an idempotency key.
func (r *Repository) GetByKey(ctx context.Context, key string) (*domain.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, selectColumns+` WHERE idempotency_key = ?`, key))
}

// FindPending returns pending jobs, oldest first.
func (r *Repository) FindPending(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		domain.StatusPending, limit,
	)
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

// Complete stores the result fields and marks a pending job completed.
func (r *Repository) Complete(ctx context.Context, id string, f domain.Fields) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE extraction_requests
		    SET status = ?, doc_type = ?, invoice_number = ?, invoice_date = ?, total_amount = ?, currency = ?,
		        error_code = NULL, error_message = NULL, updated_at = ?
		  WHERE id = ? AND status = ?`,
		domain.StatusCompleted, f.DocType, f.InvoiceNumber, f.InvoiceDate, f.TotalAmount, f.Currency,
		time.Now().UTC(), id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	return r.transitioned(ctx, result, id)
}

// Fail clears the result fields and marks a pending job permanently failed.
func (r *Repository) Fail(ctx context.Context, id string, jobErr domain.JobError) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE extraction_requests
		    SET status = ?, doc_type = NULL, invoice_number = NULL, invoice_date = NULL, total_amount = NULL, currency = NULL,
		        error_code = ?, error_message = ?, updated_at = ?
		  WHERE id = ? AND status = ?`,
		domain.StatusFailed, jobErr.Code, jobErr.Message, time.Now().UTC(), id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	return r.transitioned(ctx, result, id)
}

// transitioned distinguishes a missing job from one that already left PENDING.
func (r *Repository) transitioned(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrNotPending
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                             domain.Job
		status                          string
		docType, number, date, currency sql.NullString
		amount                          sql.NullFloat64
		errCode, errMessage             sql.NullString
	)
	err := row.Scan(&job.ID, &job.IdempotencyKey, &status, &job.DocumentText,
		&docType, &number, &date, &amount, &currency,
		&errCode, &errMessage, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)

	switch job.Status {
	case domain.StatusCompleted:
		job.Result = &domain.Fields{
			DocType:       nullString(docType),
			InvoiceNumber: nullString(number),
			InvoiceDate:   nullString(date),
			TotalAmount:   nullFloat(amount),
			Currency:      nullString(currency),
		}
	case domain.StatusFailed:
		job.Error = &domain.JobError{Code: errCode.String, Message: errMessage.String}
	}
	return &job, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
