package domain

import "errors"

var (
	// ErrInvalidPayload is returned when an invocation message cannot be decoded
	ErrInvalidPayload = errors.New("invalid invocation payload")

	// ErrMaxRetriesExceeded is returned when an invocation has used up its retry budget
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInvocationExpired is returned for an invocation received after its expiry
	ErrInvocationExpired = errors.New("invocation expired")

	// ErrTaskPanicked is returned when a handler panics
	ErrTaskPanicked = errors.New("task panicked")
)

// RetryableError wraps transient errors that should trigger a retry
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as transient. Handlers return it to ask for a retry.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryableError reports whether err carries a RetryableError
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
