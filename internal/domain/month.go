package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MonthLayout is the wire format of a calendar month ("2025-03").
const MonthLayout = "2006-01"

// DateLayout is the wire format of a calendar date.
const DateLayout = "2006-01-02"

// Month is a calendar month key in YYYY-MM form.
type Month string

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month(t.Format(MonthLayout))
}

// ParseMonth validates s as a YYYY-MM month key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return "", &ErrValidation{Field: "month", Message: fmt.Sprintf("'%s' is not a YYYY-MM month", s)}
	}
	return MonthOf(t), nil
}

// Start returns the first day of the month at midnight UTC.
func (m Month) Start() time.Time {
	t, err := time.Parse(MonthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddMonths shifts the month by n (negative allowed).
func (m Month) AddMonths(n int) Month {
	return MonthOf(m.Start().AddDate(0, n, 0))
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	return m < other
}

// Day returns the given day of the month. Days past the end of the month are
// clamped to its last day (31 in April is 30 April).
func (m Month) Day(day int) time.Time {
	start := m.Start()
	last := start.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(start.Year(), start.Month(), day, 0, 0, 0, 0, time.UTC)
}

func (m Month) String() string {
	return string(m)
}

// ParseDate parses a YYYY-MM-DD date (RFC3339 timestamps are also accepted).
// field names the input in the validation error.
func ParseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &ErrValidation{Field: field, Message: "required"}
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, mo, d := t.Date()
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, &ErrValidation{Field: field, Message: fmt.Sprintf("'%s' is not a YYYY-MM-DD date", s)}
}

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := ParseDate("date", s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
