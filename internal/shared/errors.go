package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation not allowed in the document's current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrNothingToReverse indicates a cancellation found no original movements.
	ErrNothingToReverse = errors.New("nothing to reverse")
	// ErrConcurrencyConflict indicates a lost race on a status or stock update.
	// Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// ErrorKind returns a short stable label for err, used in metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNothingToReverse):
		return "nothing_to_reverse"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrIdempotencyConflict):
		return "duplicate"
	}
	return "error"
}
