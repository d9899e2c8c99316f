package bus

import (
	"errors"
	"fmt"

	"github.com/tidemark/strata/internal/ir"
)

// ErrorCode categorizes admission failures.
type ErrorCode string

const (
	// CodeBusClosed indicates the bus (or this namespace) accepts no
	// further submissions.
	CodeBusClosed ErrorCode = "BUS_CLOSED"

	// CodeForgery indicates a handle tried to submit a patch sourced from
	// another namespace.
	CodeForgery ErrorCode = "FORGERY"

	// CodePermissionDenied indicates a cross-namespace write without the
	// cross-write permission.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeQuotaExceeded indicates admitting the patch would exceed the
	// namespace's resource limits.
	CodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
)

// Error is returned synchronously from Submit. Admission errors never
// enter a transaction - a rejected patch is simply not queued.
type Error struct {
	Code      ErrorCode
	Namespace ir.NamespaceID
	Message   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("%s: %s (namespace=%s)", e.Code, e.Message, e.Namespace)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBusClosed returns true if err is a BusClosed admission error.
func IsBusClosed(err error) bool { return hasCode(err, CodeBusClosed) }

// IsForgery returns true if err is a Forgery admission error.
func IsForgery(err error) bool { return hasCode(err, CodeForgery) }

// IsPermissionDenied returns true if err is a PermissionDenied error.
func IsPermissionDenied(err error) bool { return hasCode(err, CodePermissionDenied) }

// IsQuotaExceeded returns true if err is a QuotaExceeded error.
func IsQuotaExceeded(err error) bool { return hasCode(err, CodeQuotaExceeded) }

func hasCode(err error, code ErrorCode) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == code
}
