package schema

import (
	"errors"
	"fmt"
)

// ValidationKind categorizes validation failures.
type ValidationKind string

const (
	// KindMissingField indicates a required field is absent from a full
	// component write.
	KindMissingField ValidationKind = "MISSING_FIELD"

	// KindTypeMismatch indicates a field is present with the wrong type.
	KindTypeMismatch ValidationKind = "TYPE_MISMATCH"

	// KindUnknownComponent indicates the component name has no registered
	// schema and the validator is not permissive.
	KindUnknownComponent ValidationKind = "UNKNOWN_COMPONENT"

	// KindPayloadTooLarge indicates the payload exceeds depth or size bounds.
	KindPayloadTooLarge ValidationKind = "PAYLOAD_TOO_LARGE"
)

// ValidationError reports why a patch payload failed validation.
// Validation errors are discovered at transaction-processing time and
// reported per patch to the originating namespace; they never abort the
// process.
type ValidationError struct {
	Kind      ValidationKind
	Component string // Component name, when applicable
	Field     string // Offending field, for MissingField/TypeMismatch
	Message   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Component != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (component=%s, field=%s)", e.Kind, e.Message, e.Component, e.Field)
	case e.Component != "":
		return fmt.Sprintf("%s: %s (component=%s)", e.Kind, e.Message, e.Component)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// IsValidationError returns true if err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsMissingField returns true if err is a MissingField validation error.
func IsMissingField(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindMissingField
}

// IsTypeMismatch returns true if err is a TypeMismatch validation error.
func IsTypeMismatch(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindTypeMismatch
}

// IsUnknownComponent returns true if err is an UnknownComponent error.
func IsUnknownComponent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindUnknownComponent
}

// IsPayloadTooLarge returns true if err is a PayloadTooLarge error.
func IsPayloadTooLarge(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindPayloadTooLarge
}
