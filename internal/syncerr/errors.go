// Package syncerr defines the failure outcomes of the sync layer.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	ErrTransientFetch = errors.New("transient fetch failure")
	ErrSubscription   = errors.New("subscription failure")
	ErrWrite          = errors.New("write failure")
	ErrValidation     = errors.New("validation failure")
)

// Error is the typed outcome of a failed operation. Kind is one of the
// sentinels above; errors.Is matches both Kind and the wrapped cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fetch wraps err as a transient fetch failure of op.
func Fetch(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransientFetch, Err: err}
}

// Subscription wraps err as a subscription failure of op.
func Subscription(op string, err error) error {
	return &Error{Op: op, Kind: ErrSubscription, Err: err}
}

// Write wraps err as a write failure of op.
func Write(op string, err error) error {
	return &Error{Op: op, Kind: ErrWrite, Err: err}
}

// Validation reports a rejected input of op.
func Validation(op, reason string) error {
	return &Error{Op: op, Kind: ErrValidation, Err: errors.New(reason)}
}
