package clock_test

import (
	"testing"
	"time"

	"blueprintcourt/internal/clock"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDeadlineRoundTrips(t *testing.T) {
	s := clock.Deadline(base, 72*time.Hour)
	parsed, err := clock.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(base.Add(72 * time.Hour)) {
		t.Fatalf("parsed %v", parsed)
	}
}

func TestIsExpired(t *testing.T) {
	deadline := clock.Deadline(base, time.Hour)

	expired, err := clock.IsExpired(deadline, base.Add(59*time.Minute))
	if err != nil || expired {
		t.Fatalf("before deadline: expired=%v err=%v", expired, err)
	}
	// The deadline instant itself counts as expired.
	expired, err = clock.IsExpired(deadline, base.Add(time.Hour))
	if err != nil || !expired {
		t.Fatalf("at deadline: expired=%v err=%v", expired, err)
	}
	expired, err = clock.IsExpired("not-a-time", base)
	if err == nil || !expired {
		t.Fatalf("malformed deadline must read expired with error")
	}
}

func TestRemaining(t *testing.T) {
	deadline := clock.Deadline(base, 72*time.Hour)

	tr, err := clock.Remaining(deadline, base.Add(70*time.Hour+29*time.Minute+15*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if tr.IsExpired || tr.Hours != 1 || tr.Minutes != 30 || tr.Seconds != 45 {
		t.Fatalf("remaining = %+v, want 1h30m45s", tr)
	}

	tr, err = clock.Remaining(deadline, base.Add(73*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsExpired {
		t.Fatalf("past deadline not expired: %+v", tr)
	}
}
