package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/cwygoda/extractd/internal/domain"
)

// mockExtractor implements domain.Extractor for testing.
type mockExtractor struct {
	fields domain.Fields
	err    error
	calls  int
}

func (m *mockExtractor) Name() string { return "mock" }

func (m *mockExtractor) Extract(ctx context.Context, text string) (domain.Fields, error) {
	m.calls++
	return m.fields, m.err
}

const sampleInvoice = "INVOICE\nInvoice Number: INV-9\nDate: 2024-01-15\nTotal: $45.00"

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "heuristic", want: ModeHeuristic},
		{in: "regex", want: ModeHeuristic},
		{in: "External", want: ModeExternal},
		{in: " llm ", want: ModeExternal},
		{in: "magic", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSelector_HeuristicModeIgnoresExternal(t *testing.T) {
	ext := &mockExtractor{}
	s := NewSelector(ModeHeuristic, ext, nil)

	got, err := s.Extract(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ext.calls != 0 {
		t.Errorf("external called %d times, want 0", ext.calls)
	}
	if deref(got.InvoiceNumber) != "INV-9" {
		t.Errorf("InvoiceNumber = %q, want INV-9", deref(got.InvoiceNumber))
	}
}

func TestSelector_MergePrefersExternal(t *testing.T) {
	ext := &mockExtractor{fields: domain.Fields{
		InvoiceNumber: domain.StringPtr("EXT-1"),
		TotalAmount:   domain.FloatPtr(0),
	}}
	s := NewSelector(ModeExternal, ext, nil)

	got, err := s.Extract(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if deref(got.InvoiceNumber) != "EXT-1" {
		t.Errorf("InvoiceNumber = %q, want EXT-1", deref(got.InvoiceNumber))
	}
	// A zero amount is present, not missing.
	if got.TotalAmount == nil || *got.TotalAmount != 0 {
		t.Errorf("TotalAmount = %v, want 0", got.TotalAmount)
	}
	if deref(got.InvoiceDate) != "2024-01-15" {
		t.Errorf("InvoiceDate = %q, want heuristic 2024-01-15", deref(got.InvoiceDate))
	}
	if deref(got.Currency) != "USD" {
		t.Errorf("Currency = %q, want heuristic USD", deref(got.Currency))
	}
	if deref(got.DocType) != "invoice" {
		t.Errorf("DocType = %q, want invoice", deref(got.DocType))
	}
}

func TestSelector_ExternalEmptyUsesHeuristic(t *testing.T) {
	ext := &mockExtractor{}
	s := NewSelector(ModeExternal, ext, nil)

	got, err := s.Extract(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want, _ := Extract(sampleInvoice)
	if deref(got.InvoiceNumber) != deref(want.InvoiceNumber) || *got.TotalAmount != *want.TotalAmount {
		t.Errorf("got %+v, want heuristic result %+v", got, want)
	}
}

func TestSelector_ExternalFailureFallsBack(t *testing.T) {
	ext := &mockExtractor{err: errors.New("connection refused")}
	s := NewSelector(ModeExternal, ext, nil)

	got, err := s.Extract(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil (fallback)", err)
	}
	if got.TotalAmount == nil || *got.TotalAmount != 45 {
		t.Errorf("TotalAmount = %v, want 45", got.TotalAmount)
	}
}

func TestSelector_ExternalUnavailable(t *testing.T) {
	s := NewSelector(ModeExternal, nil, nil)

	if s.Name() != "heuristic" {
		t.Errorf("Name() = %q, want heuristic", s.Name())
	}
	got, err := s.Extract(context.Background(), sampleInvoice)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if deref(got.InvoiceNumber) != "INV-9" {
		t.Errorf("InvoiceNumber = %q, want INV-9", deref(got.InvoiceNumber))
	}
}

func TestSelector_HeuristicFailurePropagates(t *testing.T) {
	ext := &mockExtractor{fields: domain.Fields{InvoiceNumber: domain.StringPtr("EXT-1")}}
	s := NewSelector(ModeExternal, ext, nil)

	_, err := s.Extract(context.Background(), "INVOICE "+FailureMarker)
	var failure *domain.ExtractorFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Extract() error = %v, want *domain.ExtractorFailure", err)
	}
}

func TestMerge(t *testing.T) {
	primary := domain.Fields{Currency: domain.StringPtr("EUR")}
	fallback := domain.Fields{
		Currency:    domain.StringPtr("USD"),
		TotalAmount: domain.FloatPtr(12),
	}

	got := Merge(primary, fallback)
	if deref(got.Currency) != "EUR" {
		t.Errorf("Currency = %q, want EUR", deref(got.Currency))
	}
	if got.TotalAmount == nil || *got.TotalAmount != 12 {
		t.Errorf("TotalAmount = %v, want 12", got.TotalAmount)
	}
	if got.InvoiceDate != nil {
		t.Errorf("InvoiceDate = %q, want nil", deref(got.InvoiceDate))
	}
}
