// Package syncq pushes locally committed changes to the remote store and
// schedules resubmission of failed writes.
package syncq

import "time"

const (
	// BaseDelay is the wait before the first resubmission.
	BaseDelay = time.Second
	// MaxDelay caps the exponential schedule.
	MaxDelay = 60 * time.Second
	// MaxAttempts is the attempt count at which an entry is given up on.
	MaxAttempts = 5
)

// BackoffDelay is min(BaseDelay * 2^n, MaxDelay). Negative n is treated as 0.
func BackoffDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	// 2^6 s already exceeds the cap; stop shifting before it can overflow.
	if n >= 6 {
		return MaxDelay
	}
	return min(BaseDelay<<uint(n), MaxDelay)
}

// BackoffDelayMs is BackoffDelay in milliseconds.
func BackoffDelayMs(n int) int64 {
	return BackoffDelay(n).Milliseconds()
}

// ShouldStopRetrying reports whether attempt n is past the retry budget.
func ShouldStopRetrying(n int) bool {
	return n >= MaxAttempts
}

// NextRetryAt is when attempt n should be resubmitted.
func NextRetryAt(n int, now time.Time) time.Time {
	return now.Add(BackoffDelay(n))
}
