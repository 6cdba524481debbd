package coordinator

import (
	"errors"
	"fmt"
)

// ErrInitialization reports that the durable store was unreachable during
// Initialize. The coordinator stays uninitialized; retrying is safe.
var ErrInitialization = errors.New("coordinator: initialization failed")

// ErrNotInitialized reports an operation invoked before Initialize completed.
var ErrNotInitialized = errors.New("coordinator: not initialized")

// ErrDisposed reports an operation invoked after Dispose.
var ErrDisposed = errors.New("coordinator: disposed")

// ErrValidation is the class matched by errors.Is for rejected content.
var ErrValidation = errors.New("coordinator: invalid content")

// InitError carries the cause of a failed initialization while satisfying
// errors.Is(_, ErrInitialization).
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("coordinator: initialization failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

func (e *InitError) Is(target error) bool { return target == ErrInitialization }

// ValidationError describes why cacheContent rejected an item. It does not
// affect coordinator state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("coordinator: invalid content: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
