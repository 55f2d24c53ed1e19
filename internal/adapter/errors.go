package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transient marks an error as retryable (network hiccup, 5xx, ...).
// Unmarked errors are treated as permanent and never retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether a retry can plausibly help. Context
// deadline expiry counts: the per-call timeout may just have been unlucky.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return true
	}
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }

// RetryAfter marks a transient error carrying an explicit delay hint
// (e.g. HTTP 429 with Retry-After). The dispatcher respects the hint,
// bounded by its own backoff ceiling, and still applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
