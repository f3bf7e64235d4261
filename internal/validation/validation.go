// Package validation holds the error type returned when a reading or a
// score violates the input contract of the evaluation core.
package validation

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected field. It is permanent: retrying the
// same input yields the same error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func New(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: fmt.Sprint(value), Message: message}
}

func Missing(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// Is reports whether err wraps a *ValidationError.
func Is(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
