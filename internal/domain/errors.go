package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateKey = errors.New("idempotency key already exists")
	ErrNotPending   = errors.New("job is not pending")
	ErrInvalidInput = errors.New("invalid input")
	ErrQueueClosed  = errors.New("queue closed")
	ErrQueueEmpty   = errors.New("queue empty")
)

// Error codes persisted on failed jobs.
const (
	CodeExtractorTimeout = "EXTRACTOR_TIMEOUT"
	CodeExtractorError   = "EXTRACTOR_ERROR"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// ExtractorFailure is a typed, domain-level extraction failure.
type ExtractorFailure struct {
	Code    string
	Message string
}

func (e *ExtractorFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError describes a rejected submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
