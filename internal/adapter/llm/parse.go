package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

var errNoJSON = errors.New("no JSON object in model output")

var (
	reCurrency = regexp.MustCompile(`^[A-Z]{3}$`)
	reAmount   = regexp.MustCompile(`[^0-9.,\-]`)
)

// decodeObject recovers a JSON object from model output: the whole text,
// then the contents of a ``` fence, then the span from the first '{' to the
// last '}'.
func decodeObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if m, ok := tryObject(text); ok {
		return m, nil
	}

	if start, end := strings.Index(text, "```"), strings.LastIndex(text, "```"); end > start {
		fenced := strings.TrimSpace(text[start+3 : end])
		if !strings.HasPrefix(fenced, "{") {
			if nl := strings.IndexByte(fenced, '\n'); nl >= 0 {
				fenced = fenced[nl+1:]
			}
		}
		if m, ok := tryObject(fenced); ok {
			return m, nil
		}
	}

	if l, r := strings.Index(text, "{"), strings.LastIndex(text, "}"); l >= 0 && r > l {
		if m, ok := tryObject(text[l : r+1]); ok {
			return m, nil
		}
	}
	return nil, errNoJSON
}

func tryObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// sanitize normalises or drops values that would fail validation so that
// the rest of the document can still be used. It returns the keys it
// dropped.
func sanitize(m map[string]any) []string {
	var dropped []string
	drop := func(k string) {
		delete(m, k)
		dropped = append(dropped, k)
	}

	if v, ok := m["doc_type"]; ok && v != nil {
		s, isStr := v.(string)
		s = strings.ToLower(strings.TrimSpace(s))
		switch {
		case !isStr:
			drop("doc_type")
		case s == domain.DocTypeInvoice, s == domain.DocTypeReceipt, s == domain.DocTypeUnknown:
			m["doc_type"] = s
		default:
			drop("doc_type")
		}
	}

	if v, ok := m["invoice_number"]; ok && v != nil {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				m["invoice_number"] = s
			} else {
				drop("invoice_number")
			}
		case float64:
			m["invoice_number"] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			drop("invoice_number")
		}
	}

	if v, ok := m["invoice_date"]; ok && v != nil {
		s, _ := v.(string)
		if d, err := time.Parse(time.DateOnly, strings.TrimSpace(s)); err == nil {
			m["invoice_date"] = d.Format(time.DateOnly)
		} else {
			drop("invoice_date")
		}
	}

	if v, ok := m["total_amount"]; ok && v != nil {
		switch t := v.(type) {
		case float64:
		case string:
			if f, err := parseLooseAmount(t); err == nil {
				m["total_amount"] = f
			} else {
				drop("total_amount")
			}
		default:
			drop("total_amount")
		}
	}

	if v, ok := m["currency"]; ok && v != nil {
		s, _ := v.(string)
		s = strings.ToUpper(strings.TrimSpace(s))
		if reCurrency.MatchString(s) {
			m["currency"] = s
		} else {
			drop("currency")
		}
	}
	return dropped
}

// parseLooseAmount parses amounts models like to quote, such as "$1,234.50"
// or "45,50".
func parseLooseAmount(s string) (float64, error) {
	s = reAmount.ReplaceAllString(s, "")
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 && len(s)-strings.Index(s, ",") == 3 {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

type modelFields struct {
	DocType       *string  `json:"doc_type"`
	InvoiceNumber *string  `json:"invoice_number"`
	InvoiceDate   *string  `json:"invoice_date"`
	TotalAmount   *float64 `json:"total_amount"`
	Currency      *string  `json:"currency"`
}

func toFields(m map[string]any) (domain.Fields, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return domain.Fields{}, err
	}
	var mf modelFields
	if err := json.Unmarshal(b, &mf); err != nil {
		return domain.Fields{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return domain.Fields{
		DocType:       blankToNil(mf.DocType),
		InvoiceNumber: blankToNil(mf.InvoiceNumber),
		InvoiceDate:   blankToNil(mf.InvoiceDate),
		TotalAmount:   mf.TotalAmount,
		Currency:      blankToNil(mf.Currency),
	}, nil
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	return domain.StringPtr(*s)
}
