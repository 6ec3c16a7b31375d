package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the processing state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document types produced by extraction.
const (
	DocTypeInvoice = "invoice"
	DocTypeReceipt = "receipt"
	DocTypeUnknown = "unknown"
)

// Fields is the structured result of an extraction. Any field may be nil.
type Fields struct {
	DocType       *string
	InvoiceNumber *string
	InvoiceDate   *string // YYYY-MM-DD
	TotalAmount   *float64
	Currency      *string
}

// Empty reports whether every field is nil.
func (f Fields) Empty() bool {
	return f.DocType == nil &&
		f.InvoiceNumber == nil &&
		f.InvoiceDate == nil &&
		f.TotalAmount == nil &&
		f.Currency == nil
}

// JobError is the persisted failure of a job.
type JobError struct {
	Code    string
	Message string
}

// Job is one document's extraction request plus its lifecycle state.
//
// Result is non-nil only when Status is COMPLETED and Error only when it is
// FAILED; both are nil while PENDING.
type Job struct {
	ID             string
	IdempotencyKey string
	Status         JobStatus
	DocumentText   string
	Result         *Fields
	Error          *JobError
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewRequestID returns a fresh job identifier of the form "req_<12 hex>".
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 {
	return &v
}
