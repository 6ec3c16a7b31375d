package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDatePattern = regexp.MustCompile(`\b([A-Za-z]{3,9})\.?\s+(\d{1,2}),\s*(\d{4})\b`)
)

var months = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"sept":      time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
}

func init() {
	abbrev := make(map[string]time.Month, 12)
	for name, m := range months {
		abbrev[name[:3]] = m
	}
	for name, m := range abbrev {
		months[name] = m
	}
}

// extractDate returns the first date in text as YYYY-MM-DD. The first
// ISO-shaped date decides the outcome when present; otherwise the first
// "Month DD, YYYY" phrase with a recognised month name is used. Impossible
// calendar dates yield nil.
func extractDate(text string) *string {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		return calendarDate(m[1], m[2], m[3])
	}
	for _, m := range monthDatePattern.FindAllStringSubmatch(text, -1) {
		month, ok := months[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		return calendarDate(m[3], strconv.Itoa(int(month)), m[2])
	}
	return nil
}

func calendarDate(year, month, day string) *string {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	if m < 1 || m > 12 || d < 1 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow, so a changed day means it did not exist.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return nil
	}
	s := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	return &s
}
