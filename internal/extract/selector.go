package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwygoda/extractd/internal/domain"
)

// Mode selects which extraction backends the Selector consults.
type Mode string

const (
	ModeHeuristic Mode = "heuristic"
	ModeExternal  Mode = "external"
)

// ParseMode maps a configuration value to a Mode. "regex" and "llm" are
// accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heuristic", "regex":
		return ModeHeuristic, nil
	case "external", "llm":
		return ModeExternal, nil
	default:
		return "", fmt.Errorf("unknown extractor backend %q", s)
	}
}

// Selector runs the heuristic engine, optionally consulting an external
// backend first and merging both results.
type Selector struct {
	mode      Mode
	heuristic domain.Extractor
	external  domain.Extractor
	logger    *slog.Logger
}

// NewSelector creates a Selector. external may be nil, in which case
// ModeExternal behaves like ModeHeuristic.
func NewSelector(mode Mode, external domain.Extractor, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		mode:      mode,
		heuristic: NewHeuristic(),
		external:  external,
		logger:    logger,
	}
}

// Name returns the selector name.
func (s *Selector) Name() string {
	if s.mode == ModeExternal && s.external != nil {
		return "external+" + s.heuristic.Name()
	}
	return s.heuristic.Name()
}

// Extract implements domain.Extractor. Failures of the external backend are
// never returned; the heuristic result is used instead.
func (s *Selector) Extract(ctx context.Context, text string) (domain.Fields, error) {
	if s.mode != ModeExternal {
		return s.heuristic.Extract(ctx, text)
	}
	if s.external == nil {
		s.logger.Warn("external extractor unavailable, falling back to heuristic")
		return s.heuristic.Extract(ctx, text)
	}

	ext, err := s.external.Extract(ctx, text)
	if err != nil {
		s.logger.Warn("external extractor failed, falling back to heuristic", "backend", s.external.Name(), "error", err)
		return s.heuristic.Extract(ctx, text)
	}

	base, err := s.heuristic.Extract(ctx, text)
	if err != nil {
		return domain.Fields{}, err
	}

	merged := Merge(ext, base)
	if merged.Empty() {
		s.logger.Warn("external extractor returned no usable fields, using heuristic", "backend", s.external.Name())
		return base, nil
	}
	return merged, nil
}

// Merge prefers each field of primary when present and takes fallback's
// value otherwise. Presence is a nil test, so a zero amount is kept.
func Merge(primary, fallback domain.Fields) domain.Fields {
	return domain.Fields{
		DocType:       firstString(primary.DocType, fallback.DocType),
		InvoiceNumber: firstString(primary.InvoiceNumber, fallback.InvoiceNumber),
		InvoiceDate:   firstString(primary.InvoiceDate, fallback.InvoiceDate),
		TotalAmount:   firstFloat(primary.TotalAmount, fallback.TotalAmount),
		Currency:      firstString(primary.Currency, fallback.Currency),
	}
}

func firstString(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func firstFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}
