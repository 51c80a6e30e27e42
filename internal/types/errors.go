package types

import (
	"errors"
	"fmt"
)

// ValidationError rejects a single malformed update. It never aborts a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a point lookup or delete on an unknown identity.
type NotFoundError struct {
	Identity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("track %q not found", e.Identity)
}

// StoreError wraps a backing-store failure. It is fatal to the batch or sweep
// that hit it; partial progress already committed is not rolled back.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
