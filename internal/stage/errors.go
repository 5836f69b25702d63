// errors.go defines the typed stage error taxonomy consumed by the retry
// policy: transient errors are retried with backoff, everything else
// propagates immediately.
package stage

import (
	"errors"
	"fmt"
	"time"
)

// TransientError wraps a retryable failure from the external capability,
// typically a network or provider error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient stage error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError reports malformed stage input. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid stage input: %s", e.Reason)
}

// TimeoutError reports a stage attempt that exceeded its deadline. It is
// retried only while the retry budget lasts.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

// StorageError reports a failed durable write. It is fatal to the current
// attempt: a stage whose artifact or progress event cannot be persisted is
// treated as failed, never silently unrecorded.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}
