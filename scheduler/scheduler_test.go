package scheduler

import (
	"testing"
	"time"
)

func mustPolicy(t *testing.T, d, lead time.Duration, tz string) Policy {
	t.Helper()
	p, err := NewPolicy(d, lead, tz)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy(0, 0, "UTC"); err == nil {
		t.Error("zero duration accepted")
	}
	if _, err := NewPolicy(time.Hour, time.Hour, "UTC"); err == nil {
		t.Error("lead time == duration accepted")
	}
	if _, err := NewPolicy(time.Hour, -time.Minute, "UTC"); err == nil {
		t.Error("negative lead time accepted")
	}
	// Unknown timezone falls back to UTC rather than erroring.
	p, err := NewPolicy(time.Hour, time.Minute, "Not/AZone")
	if err != nil {
		t.Fatalf("unexpected error for unknown tz: %v", err)
	}
	if p.Location != time.UTC {
		t.Errorf("unknown tz location = %v, want UTC", p.Location)
	}
}

func TestShouldBeginHandoffBoundary(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		duration time.Duration
		lead     time.Duration
		offset   time.Duration // from created
		want     bool
	}{
		{"well before window", 10 * time.Hour, 10 * time.Minute, 5 * time.Hour, false},
		{"one second before window", 10 * time.Hour, 10 * time.Minute, 10*time.Hour - 10*time.Minute - time.Second, false},
		{"exactly at window open", 10 * time.Hour, 10 * time.Minute, 10*time.Hour - 10*time.Minute, true},
		{"inside window", 10 * time.Hour, 10 * time.Minute, 10*time.Hour - 5*time.Minute, true},
		{"at deadline", 10 * time.Hour, 10 * time.Minute, 10 * time.Hour, true},
		{"past deadline", 10 * time.Hour, 10 * time.Minute, 11 * time.Hour, true},
		{"short session", 30 * time.Minute, 5 * time.Minute, 24 * time.Minute, false},
		{"short session window open", 30 * time.Minute, 5 * time.Minute, 25 * time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := mustPolicy(t, tc.duration, tc.lead, "UTC")
			deadline := p.RotationDeadline(created)
			if got := p.ShouldBeginHandoff(deadline, created.Add(tc.offset)); got != tc.want {
				t.Errorf("ShouldBeginHandoff at +%s = %v, want %v", tc.offset, got, tc.want)
			}
		})
	}
}

func TestRotationDeadline(t *testing.T) {
	p := mustPolicy(t, 10*time.Hour, 10*time.Minute, "UTC")
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	if got := p.RotationDeadline(created); !got.Equal(want) {
		t.Errorf("RotationDeadline = %v, want %v", got, want)
	}
}

func TestRemainingFloorsAtZero(t *testing.T) {
	p := mustPolicy(t, time.Hour, time.Minute, "UTC")
	deadline := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if got := p.Remaining(deadline, deadline.Add(time.Minute)); got != 0 {
		t.Errorf("Remaining past deadline = %v, want 0", got)
	}
	if got := p.Remaining(deadline, deadline.Add(-30*time.Minute)); got != 30*time.Minute {
		t.Errorf("Remaining = %v, want 30m", got)
	}
}

func TestRenderTitlePlaceholders(t *testing.T) {
	p := mustPolicy(t, 10*time.Hour, 10*time.Minute, "UTC")
	at := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)

	cases := []struct {
		template string
		seq      int64
		want     string
	}{
		{"Camera Live - {datetime}", 1, "Camera Live - 2024-03-01 14:05"},
		{"{date}", 1, "2024-03-01"},
		{"{time}", 1, "14:05"},
		{"{timestamp}", 1, "20240301_140509"},
		{"Stream #{stream_number}", 42, "Stream #42"},
		{"{date} {time} #{stream_number}", 7, "2024-03-01 14:05 #7"},
		{"no placeholders", 1, "no placeholders"},
	}
	for _, tc := range cases {
		if got := p.RenderTitle(tc.template, tc.seq, at); got != tc.want {
			t.Errorf("RenderTitle(%q, %d) = %q, want %q", tc.template, tc.seq, got, tc.want)
		}
	}
}

func TestRenderTitleDeterministic(t *testing.T) {
	p := mustPolicy(t, 10*time.Hour, 10*time.Minute, "America/New_York")
	at := time.Date(2024, 7, 4, 16, 30, 0, 0, time.UTC)
	a := p.RenderTitle("Cam {datetime} #{stream_number}", 3, at)
	b := p.RenderTitle("Cam {datetime} #{stream_number}", 3, at)
	if a != b {
		t.Fatalf("non-deterministic render: %q vs %q", a, b)
	}
	// EDT is UTC-4 on July 4th.
	if a != "Cam 2024-07-04 12:30 #3" {
		t.Errorf("timezone-aware render = %q", a)
	}
}
