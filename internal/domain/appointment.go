package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var ErrInvalidTime = errors.New("invalid time of day")

// Appointment is the backend's appointment record as seen by the agenda core.
// Customer and service display fields are denormalized by the backend and are
// never written by this module.
type Appointment struct {
	ID              string `json:"id"`
	BusinessID      string `json:"businessId"`
	CustomerID      string `json:"customerId"`
	ServiceID       string `json:"serviceId"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"durationMinutes"`
	Status          Status `json:"status"`
	Notes           string `json:"notes,omitempty"`

	// DateTime is set on synthetic placeholder records and by backends that
	// ship a combined value. Date and Time stay authoritative when both exist.
	DateTime *time.Time `json:"dateTime,omitempty"`

	CustomerName  string  `json:"customerName,omitempty"`
	CustomerPhone string  `json:"customerPhone,omitempty"`
	ServiceName   string  `json:"serviceName,omitempty"`
	ServicePrice  float64 `json:"servicePrice,omitempty"`
}

// Start returns the local start instant of the appointment in loc.
func (a Appointment) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if a.Date == "" && a.DateTime != nil {
		return a.DateTime.In(loc), nil
	}
	d, err := time.ParseInLocation(DateLayout, a.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", a.Date, err)
	}
	m, err := MinutesSinceMidnight(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(m) * time.Minute), nil
}

// MinutesSinceMidnight parses an "HH:mm" (or "H:mm", optionally with seconds)
// time of day.
func MinutesSinceMidnight(hhmm string) (int, error) {
	s := strings.TrimSpace(hhmm)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	h, ok := clockField(parts[0], 1, 23)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	m, ok := clockField(parts[1], 2, 59)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	if len(parts) == 3 {
		if _, ok := clockField(parts[2], 2, 59); !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
		}
	}
	return h*60 + m, nil
}

// clockField parses a digits-only component of minLen to 2 characters that
// is at most limit.
func clockField(s string, minLen, limit int) (int, bool) {
	if len(s) < minLen || len(s) > 2 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n > limit {
		return 0, false
	}
	return n, true
}

// FormatMinutes renders minutes since midnight as "HH:MM".
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// SplitDateTime derives the date and time strings from a combined value.
func SplitDateTime(t time.Time) (date, clock string) {
	return t.Format(DateLayout), t.Format(TimeLayout)
}

// Dedupe keeps one appointment per ID. A later record replaces an earlier one
// in place so the original ordering is preserved.
func Dedupe(in []Appointment) []Appointment {
	out := make([]Appointment, 0, len(in))
	index := make(map[string]int, len(in))
	for _, a := range in {
		if a.ID == "" {
			out = append(out, a)
			continue
		}
		if i, ok := index[a.ID]; ok {
			out[i] = a
			continue
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	return out
}
