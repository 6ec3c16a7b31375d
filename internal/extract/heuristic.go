// Package extract implements rule-based invoice and receipt field extraction
// and the selector that merges it with an external backend.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/cwygoda/extractd/internal/domain"
)

// FailureMarker makes the heuristic engine fail deterministically.
const FailureMarker = "<<TRIGGER_EXTRACTOR_FAILURE>>"

// identifier patterns in priority order; the first pattern that matches wins.
var invoiceNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Invoice\s*Number[:#]?\s*([A-Za-z0-9\-_/]+)`),
	regexp.MustCompile(`(?i)Invoice\s*#[:\s]*([A-Za-z0-9\-_/]+)`),
	regexp.MustCompile(`(?i)Invoice[:\s]+([A-Za-z0-9\-_/]+)`),
	regexp.MustCompile(`(?i)Transaction\s*#[:\s]*([A-Za-z0-9\-_/]+)`),
	regexp.MustCompile(`(?i)Transaction\s*Number[:#]?\s*([A-Za-z0-9\-_/]+)`),
}

// Heuristic is the regex based extractor. It performs no I/O.
type Heuristic struct{}

// NewHeuristic creates a heuristic extractor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name returns the extractor name.
func (h *Heuristic) Name() string {
	return "heuristic"
}

// Extract implements domain.Extractor.
func (h *Heuristic) Extract(_ context.Context, text string) (domain.Fields, error) {
	return Extract(text)
}

// Extract pulls document type, identifier, date, currency and total out of
// text. Malformed input yields nil fields, never an error; the only failure
// is the one triggered by FailureMarker.
func Extract(text string) (domain.Fields, error) {
	if strings.Contains(text, FailureMarker) {
		return domain.Fields{}, &domain.ExtractorFailure{
			Code:    domain.CodeExtractorTimeout,
			Message: "Extraction process timed out after 30 seconds",
		}
	}

	docType := detectDocType(text)
	fields := domain.Fields{
		DocType:       &docType,
		InvoiceNumber: extractInvoiceNumber(text),
		InvoiceDate:   extractDate(text),
	}
	fields.Currency, fields.TotalAmount = extractCurrencyAndAmount(text)
	return fields, nil
}

func detectDocType(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "INVOICE"):
		return domain.DocTypeInvoice
	case strings.Contains(upper, "RECEIPT"):
		return domain.DocTypeReceipt
	default:
		return domain.DocTypeUnknown
	}
}

func extractInvoiceNumber(text string) *string {
	for _, re := range invoiceNumberPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return domain.StringPtr(m[1])
		}
	}
	return nil
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
