package utils

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RentalWindow is a parsed borrow period.
type RentalWindow struct {
	Start time.Time
	End   time.Time
}

// ParseTimestamp accepts RFC 3339 timestamps, with or without fractional
// seconds, and a bare yyyy-mm-dd date meaning midnight UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected RFC 3339 or yyyy-mm-dd", s)
}

// ParseRentalWindow parses start and end and checks their order.
func ParseRentalWindow(start, end string) (RentalWindow, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return RentalWindow{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return RentalWindow{}, fmt.Errorf("end: %w", err)
	}
	if !e.After(s) {
		return RentalWindow{}, fmt.Errorf("end must be after start")
	}
	return RentalWindow{Start: s, End: e}, nil
}

// RentalHours rounds the span between start and end up to whole hours. An
// empty or inverted span is zero.
func RentalHours(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

// Overdue is how far past due a return happened; zero when on time.
func Overdue(due, returnedAt time.Time) time.Duration {
	if d := returnedAt.Sub(due); d > 0 {
		return d
	}
	return 0
}

// FormatRupees renders a paise amount as a display string, e.g. "₹1,250.50".
func FormatRupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	units := decimal.New(paise, -2).StringFixed(2)
	whole, frac, _ := strings.Cut(units, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "₹" + b.String() + "." + frac
}
