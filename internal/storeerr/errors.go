// Package storeerr defines the error taxonomy shared by all persistence
// components. Callers branch on these sentinels with errors.Is; the
// concrete backend error stays wrapped for logging.
package storeerr

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConstraintViolation is returned when a write breaks a data
	// invariant (duplicate key, self-relation, unknown reference).
	// Never retried.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrTransientStore marks a backend failure that is expected to
	// succeed on retry (connection loss, timeout).
	ErrTransientStore = errors.New("transient store failure")

	// ErrDimensionMismatch is returned when an embedding does not match
	// the configured index dimension. Fatal for the operation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidPayload is returned when a task payload fails validation
	// at the dispatch boundary.
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrDeliveryExhausted marks a task that exceeded its retry budget
	// and was routed to the dead letter queue.
	ErrDeliveryExhausted = errors.New("task delivery exhausted")
)

// IsRetryable reports whether a task handler error should be retried.
// Validation and invariant failures will fail the same way every time.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConstraintViolation),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrNotFound):
		return false
	}
	return true
}
