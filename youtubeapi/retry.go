package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy is the single retry configuration shared by every API call.
// One policy object instead of per-call-site loops keeps backoff behavior
// uniform and testable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxQuotaWait caps the quota cool-down: the client sleeps until the
	// next quota reset boundary or this long, whichever is sooner.
	MaxQuotaWait time.Duration

	now func() time.Time
}

// DefaultRetryPolicy mirrors the original system's three attempts with a
// bounded backoff curve.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxQuotaWait: 2 * time.Hour,
		now:          time.Now,
	}
}

// WithClock returns a copy of the policy reading time from now. Callers that
// inject a test clock use this to keep the quota cool-down deterministic.
func (p RetryPolicy) WithClock(now func() time.Time) RetryPolicy {
	p.now = now
	return p
}

// backoff returns the sleep before retry attempt (1-based) with jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// +/-20% jitter
	//nolint:gosec // G404: math/rand is sufficient for backoff jitter
	j := time.Duration(rand.Int63n(int64(d)/2)) - d/4
	return d + j
}

// quotaResetLocation is where YouTube's daily API quota resets at midnight.
var quotaResetLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// QuotaCooldown returns how long to wait after a confirmed quota-exhaustion
// error: until the next daily reset boundary, capped at MaxQuotaWait.
func (p RetryPolicy) QuotaCooldown() time.Duration {
	nowFn := p.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn().In(quotaResetLocation)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, quotaResetLocation).Add(24 * time.Hour)
	wait := midnight.Sub(now)
	if wait > p.MaxQuotaWait {
		wait = p.MaxQuotaWait
	}
	return wait
}

// Do runs fn under the retry policy. Transient errors are retried with
// backoff up to MaxAttempts; rejected and quota errors abort immediately and
// propagate for the caller to handle (quota errors carry the cool-down
// decision upward rather than sleeping for hours inside an API call).
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.backoff(attempt)
		slog.Warn("api call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("backoff", delay),
			slog.Any("err", lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, p.MaxAttempts, lastErr)
}
