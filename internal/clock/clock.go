// Package clock derives phase timing from stored absolute deadlines.
//
// Deadlines are persisted as RFC3339 UTC strings and every countdown is
// recomputed against the caller's clock on demand. No in-memory ticker is
// ever authoritative, so a stalled background sweep can never keep an
// expired phase alive once something reads it.
package clock

import (
	"fmt"
	"time"
)

// TimeRemaining is a derived countdown. It is never persisted.
type TimeRemaining struct {
	Hours     int  `json:"hours"`
	Minutes   int  `json:"minutes"`
	Seconds   int  `json:"seconds"`
	IsExpired bool `json:"is_expired"`
}

// Deadline returns now+d formatted for storage.
func Deadline(now time.Time, d time.Duration) string {
	return now.UTC().Add(d).Format(time.RFC3339)
}

// Parse reads a stored deadline back into a time.Time.
func Parse(deadline string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed deadline %q: %w", deadline, err)
	}
	return t, nil
}

// IsExpired reports whether the stored deadline has passed at now.
// A malformed deadline is treated as expired and surfaced by error.
func IsExpired(deadline string, now time.Time) (bool, error) {
	t, err := Parse(deadline)
	if err != nil {
		return true, err
	}
	return !now.Before(t), nil
}

// Remaining computes the countdown to a stored deadline at now.
func Remaining(deadline string, now time.Time) (TimeRemaining, error) {
	t, err := Parse(deadline)
	if err != nil {
		return TimeRemaining{IsExpired: true}, err
	}
	d := t.Sub(now)
	if d <= 0 {
		return TimeRemaining{IsExpired: true}, nil
	}
	d = d.Round(time.Second)
	return TimeRemaining{
		Hours:   int(d / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
		Seconds: int(d % time.Minute / time.Second),
	}, nil
}
