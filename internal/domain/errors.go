package domain

import "errors"

// ErrNotFound marks a delivery target whose copy no longer exists (deleted
// by a moderator, expired, unknown id). It is terminal and additionally
// tells the router to drop the stale identity mapping.
var ErrNotFound = errors.New("message not found")

// classifiedError tags an adapter failure as retryable (timeout, 5xx, rate
// limit) or terminal (permission, invalid payload).
type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Retryable wraps err as a transient failure eligible for backoff retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: true}
}

// Terminal wraps err as a failure that must not be retried.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: false}
}

// IsRetryable reports whether err was classified as transient. Unclassified
// errors are treated as terminal: retrying an unknown failure against a rate
// limited chat API is worse than reporting it.
func IsRetryable(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.retryable
	}
	return false
}
