package extract

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{raw: "1.234,56", want: 1234.56, wantOK: true},
		{raw: "1,234.56", want: 1234.56, wantOK: true},
		{raw: "1 234,56", want: 1234.56, wantOK: true},
		{raw: "45.00", want: 45, wantOK: true},
		{raw: "45,50", want: 45.5, wantOK: true},
		{raw: "1,234", want: 1234, wantOK: true},
		{raw: "1.234.567", want: 1234567, wantOK: true},
		{raw: "120", want: 120, wantOK: true},
		{raw: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseAmount(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("parseAmount(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseAmount(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExtractCurrencyAndAmount(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCurrency string
		wantAmount   float64
		wantNil      bool
	}{
		{
			name:         "total beats subtotal",
			text:         "Subtotal: $40.00\nTotal: $45.00",
			wantCurrency: "USD",
			wantAmount:   45,
		},
		{
			name:         "largest amount across candidates",
			text:         "Grand Total: €10.00\nDeposit: €250,00",
			wantCurrency: "EUR",
			wantAmount:   250,
		},
		{
			name:         "code beats symbol",
			text:         "TOTAL: $99.99 CAD",
			wantCurrency: "CAD",
			wantAmount:   99.99,
		},
		{
			name:         "european separators",
			text:         "Total Paid: € 1.234,56",
			wantCurrency: "EUR",
			wantAmount:   1234.56,
		},
		{
			name:         "pound symbol",
			text:         "Receipt\nTotal £12.50",
			wantCurrency: "GBP",
			wantAmount:   12.5,
		},
		{
			name:         "code only line",
			text:         "Amount due 300.00 NZD",
			wantCurrency: "NZD",
			wantAmount:   300,
		},
		{
			name:       "no hint uses any number line",
			text:       "Total 42.10\nItems 3",
			wantAmount: 42.1,
		},
		{
			name:    "nothing parseable",
			text:    "no numbers at all",
			wantNil: true,
		},
		{
			name:         "first of equal amounts wins",
			text:         "Total: 10.00 EUR\nPaid: $10.00",
			wantCurrency: "EUR",
			wantAmount:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			currency, amount := extractCurrencyAndAmount(tt.text)
			if tt.wantNil {
				if currency != nil || amount != nil {
					t.Errorf("got (%v, %v), want (nil, nil)", currency, amount)
				}
				return
			}
			if amount == nil || *amount != tt.wantAmount {
				t.Errorf("amount = %v, want %v", amount, tt.wantAmount)
			}
			if deref(currency) != orNil(tt.wantCurrency) {
				t.Errorf("currency = %q, want %q", deref(currency), orNil(tt.wantCurrency))
			}
		})
	}
}

func orNil(s string) string {
	if s == "" {
		return "<nil>"
	}
	return s
}
