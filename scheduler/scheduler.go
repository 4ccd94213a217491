// Package scheduler owns the rotation timing policy and title templating.
// It is pure decision logic: no I/O, no clocks of its own. Callers pass in
// the current time so behavior is fully deterministic under test.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy holds the rotation timing constants and the title timezone.
type Policy struct {
	// Duration is how long a single session may run before rotation.
	Duration time.Duration
	// LeadTime is the safety margin before the deadline at which the handoff
	// begins. It must cover session creation, agent warm-up, and the remote
	// Testing->Live confirmation latency.
	LeadTime time.Duration
	// Location is the timezone used for title rendering.
	Location *time.Location
}

// NewPolicy builds a Policy, resolving the IANA timezone name. An unknown
// timezone falls back to UTC rather than failing; the original system logged
// and continued, and a bad TZ should not take the stream down.
func NewPolicy(duration, leadTime time.Duration, timezone string) (Policy, error) {
	if duration <= 0 {
		return Policy{}, fmt.Errorf("duration must be positive, got %s", duration)
	}
	if leadTime < 0 || leadTime >= duration {
		return Policy{}, fmt.Errorf("lead time %s must be in [0, %s)", leadTime, duration)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return Policy{Duration: duration, LeadTime: leadTime, Location: loc}, nil
}

// RotationDeadline returns the instant by which the session created at
// createdAt must have been rotated away from.
func (p Policy) RotationDeadline(createdAt time.Time) time.Time {
	return createdAt.Add(p.Duration)
}

// ShouldBeginHandoff reports whether the handoff window for the given
// deadline has opened: true once now >= deadline - LeadTime.
func (p Policy) ShouldBeginHandoff(deadline, now time.Time) bool {
	return !now.Before(deadline.Add(-p.LeadTime))
}

// Remaining returns time left until the deadline, floored at zero.
func (p Policy) Remaining(deadline, now time.Time) time.Duration {
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RenderTitle expands the title template against the given instant (in the
// policy timezone) and stream sequence number. Supported placeholders:
//
//	{date}           2006-01-02
//	{time}           15:04
//	{datetime}       2006-01-02 15:04
//	{timestamp}      20060102_150405
//	{stream_number}  sequence number, decimal
func (p Policy) RenderTitle(template string, seq int64, now time.Time) string {
	t := now.In(p.Location)
	r := strings.NewReplacer(
		"{date}", t.Format("2006-01-02"),
		"{time}", t.Format("15:04"),
		"{datetime}", t.Format("2006-01-02 15:04"),
		"{timestamp}", t.Format("20060102_150405"),
		"{stream_number}", strconv.FormatInt(seq, 10),
	)
	return r.Replace(template)
}
