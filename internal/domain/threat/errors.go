package threat

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEvent is returned for malformed or out-of-order signals.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidWeights is returned when fusion weights cannot sum to 1.
	ErrInvalidWeights = errors.New("invalid fusion weights")
)

// FailureClass tells the coordinator whether a failed attempt may be retried.
type FailureClass int

const (
	// FailureTransient failures are retried with backoff.
	FailureTransient FailureClass = iota
	// FailurePermanent failures stop retries immediately.
	FailurePermanent
)

// String implements fmt.Stringer.
func (c FailureClass) String() string {
	if c == FailurePermanent {
		return "permanent"
	}

	return "transient"
}

// DispatchError classifies an executor failure.
type DispatchError struct {
	Class FailureClass
	Err   error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failure: %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &DispatchError{Class: FailureTransient, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &DispatchError{Class: FailurePermanent, Err: err}
}

// ClassOf returns the failure class of err.
// Unclassified errors are treated as transient.
func ClassOf(err error) FailureClass {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Class
	}

	return FailureTransient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == FailurePermanent
}

// CriticalDispatchFailure reports the permanent failure of an action that has
// no fallback, i.e. contacting the authorities.
type CriticalDispatchFailure struct {
	// Task is the final state of the failed task.
	Task DispatchTask
	// Transition is the transition that requested the action.
	Transition LevelTransition
	// Err is the last executor error.
	Err error
	// At is when the failure became permanent.
	At time.Time
}

// Error implements the error interface so the report can travel as an error.
func (c *CriticalDispatchFailure) Error() string {
	return fmt.Sprintf(
		"critical dispatch failure: %s for %s after %d attempts: %v",
		c.Task.Action.Kind, c.Transition.To, c.Task.Attempts, c.Err,
	)
}

// Unwrap returns the last executor error.
func (c *CriticalDispatchFailure) Unwrap() error {
	return c.Err
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == FailureTransient
}
