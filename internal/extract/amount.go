package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// number is an amount-shaped token: digit groups of three separated by ',',
// '.' or whitespace with an optional two-digit decimal part, or a plain run
// of digits with an optional two-digit decimal part.
const number = `[0-9]{1,3}(?:[,.\s][0-9]{3})+(?:[.,][0-9]{2})?|[0-9]+(?:[.,][0-9]{2})?`

var (
	totalLinePattern = regexp.MustCompile(`(?i)\b(TOTAL|Grand\s+Total|Total\s+Paid)\b`)
	symbolPattern    = regexp.MustCompile(`[$€£]`)
	codePattern      = regexp.MustCompile(`\b(USD|EUR|GBP|AUD|CAD|CHF|CNY|INR|JPY|NZD)\b`)

	symbolAmountPattern = regexp.MustCompile(`([$€£])\s*(` + number + `)`)
	anyAmountPattern    = regexp.MustCompile(`([$€£])?\s*(` + number + `)`)

	twoDigitTail = regexp.MustCompile(`[.,][0-9]{2}$`)
)

var supportedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "AUD": true, "CAD": true,
	"CHF": true, "CNY": true, "INR": true, "JPY": true, "NZD": true,
}

var symbolCurrency = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
}

type candidateAmount struct {
	amount   float64
	currency string
}

// extractCurrencyAndAmount picks the largest amount from the candidate lines
// (total lines first, then lines with a currency symbol, then lines with a
// currency code) together with its currency.
func extractCurrencyAndAmount(text string) (*string, *float64) {
	lines := strings.Split(normalizeNewlines(text), "\n")

	var found []candidateAmount
	for _, line := range candidateLines(lines) {
		found = append(found, amountsOnLine(line)...)
	}
	if len(found) == 0 {
		return nil, nil
	}

	best := found[0]
	for _, c := range found[1:] {
		if c.amount > best.amount {
			best = c
		}
	}
	amount := best.amount
	if best.currency == "" {
		return nil, &amount
	}
	currency := best.currency
	return &currency, &amount
}

func hasCurrencyHint(line string) bool {
	return symbolPattern.MatchString(line) || codePattern.MatchString(line)
}

// candidateLines returns de-duplicated lines in priority order. Lines that
// merely contain a number are only considered when no line in the document
// carries a currency hint.
func candidateLines(lines []string) []string {
	var totals, totalsWithHint, symbolLines, codeLines []string
	anyHint := false
	for _, line := range lines {
		hint := hasCurrencyHint(line)
		anyHint = anyHint || hint
		if totalLinePattern.MatchString(line) {
			totals = append(totals, line)
			if hint {
				totalsWithHint = append(totalsWithHint, line)
			}
		}
		if symbolPattern.MatchString(line) {
			symbolLines = append(symbolLines, line)
		}
		if codePattern.MatchString(line) {
			codeLines = append(codeLines, line)
		}
	}

	first := totalsWithHint
	if len(first) == 0 {
		first = totals
	}

	seen := make(map[string]bool)
	var out []string
	add := func(group []string) {
		for _, line := range group {
			if !seen[line] {
				seen[line] = true
				out = append(out, line)
			}
		}
	}
	add(first)
	add(symbolLines)
	add(codeLines)

	if !anyHint {
		for _, line := range lines {
			if anyAmountPattern.MatchString(line) {
				add([]string{line})
			}
		}
	}
	return out
}

// amountsOnLine prefers amounts anchored to a currency symbol and falls back
// to any number on the line when there is none.
func amountsOnLine(line string) []candidateAmount {
	lineCode := ""
	if m := codePattern.FindStringSubmatch(line); m != nil && supportedCurrencies[m[1]] {
		lineCode = m[1]
	}

	pattern := symbolAmountPattern
	if !symbolAmountPattern.MatchString(line) {
		pattern = anyAmountPattern
	}

	var out []candidateAmount
	for _, m := range pattern.FindAllStringSubmatch(line, -1) {
		amount, ok := parseAmount(m[2])
		if !ok {
			continue
		}
		currency := lineCode
		if currency == "" {
			currency = symbolCurrency[m[1]]
		}
		out = append(out, candidateAmount{amount: amount, currency: currency})
	}
	return out
}

// parseAmount normalises a raw number. When both ',' and '.' occur, the mark
// that appears last is the decimal separator. With a single kind of mark, it
// is the decimal separator only when followed by exactly two trailing digits;
// otherwise it groups thousands.
func parseAmount(raw string) (float64, bool) {
	s := strings.Join(strings.Fields(raw), "")
	if s == "" {
		return 0, false
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	strip := strings.NewReplacer(",", "", ".", "")
	if (comma >= 0 && dot >= 0) || twoDigitTail.MatchString(s) {
		i := max(comma, dot)
		s = strip.Replace(s[:i]) + "." + s[i+1:]
	} else {
		s = strip.Replace(s)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
