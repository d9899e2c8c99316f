package store

import (
	"errors"
	"fmt"
)

// ApplyError reports why a committed transaction could not be applied.
// Index is the position of the failing patch within the committed batch;
// Op names the patch family and operation.
type ApplyError struct {
	Index   int
	Op      string
	Message string
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply patch %d (%s): %s", e.Index, e.Op, e.Message)
}

// IsApplyError returns true if err is an ApplyError.
func IsApplyError(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae)
}
