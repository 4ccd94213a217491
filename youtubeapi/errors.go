package youtubeapi

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrorClass categorizes API failures into the retry behaviors the
// controller distinguishes.
type ErrorClass int

const (
	// ErrorTransient indicates a retryable failure (network, 5xx, timeout).
	ErrorTransient ErrorClass = iota
	// ErrorQuota indicates the daily API quota is exhausted; retry only
	// after a cool-down, not on the normal backoff curve.
	ErrorQuota
	// ErrorRejected indicates the request itself was refused (validation,
	// auth revocation). Retrying the same request cannot succeed.
	ErrorRejected
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorQuota:
		return "quota"
	case ErrorRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps an API call error to its ErrorClass.
//
// Rejected (non-retryable): 400/401/403 (except quota reasons), 404.
// Quota: a depleted daily budget (quotaExceeded / dailyLimitExceeded), as
// opposed to a momentary rate limit which backs off normally.
// Transient: 5xx, 429, network errors, timeouts, and anything unrecognized
// (giving up too early kills the stream; retrying a fatal error merely
// wastes a few attempts).
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, e := range gerr.Errors {
			switch e.Reason {
			case "quotaExceeded", "dailyLimitExceeded":
				return ErrorQuota
			case "userRateLimitExceeded", "rateLimitExceeded":
				return ErrorTransient
			}
		}
		switch {
		case gerr.Code == 429:
			return ErrorTransient
		case gerr.Code >= 500:
			return ErrorTransient
		case gerr.Code == 403 && strings.Contains(strings.ToLower(gerr.Message), "quota"):
			return ErrorQuota
		case gerr.Code >= 400:
			return ErrorRejected
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ErrorTransient
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporary failure in name resolution",
		"no route to host",
		"network unreachable",
		"eof",
		"broken pipe",
	} {
		if strings.Contains(lower, pattern) {
			return ErrorTransient
		}
	}
	if strings.Contains(lower, "quota") {
		return ErrorQuota
	}

	return ErrorTransient
}

// IsRetryable reports whether the error should go through the normal
// backoff loop.
func IsRetryable(err error) bool { return Classify(err) == ErrorTransient }

// IsQuotaExhausted reports whether the error signals a depleted daily quota.
func IsQuotaExhausted(err error) bool { return Classify(err) == ErrorQuota }
