package stock

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the provider's calendar date format.
const DateLayout = "20060102"

// ParseDate parses a YYYYMMDD (or YYYY-MM-DD) civil date at UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layout := DateLayout
	if strings.Contains(raw, "-") {
		layout = time.DateOnly
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

// FormatDate renders t as YYYYMMDD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CivilDate truncates t to midnight UTC of its calendar day in t's location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a civil date by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return CivilDate(t).AddDate(0, 0, n)
}
