package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSameUnit is returned when a rule converts a unit into itself
	ErrSameUnit = errors.New("fromUnit and toUnit must differ")

	// ErrMalformedRule covers empty units, bad rates and unknown categories
	ErrMalformedRule = errors.New("malformed conversion rule")
)

// ValidationError describes which field of a rule was rejected.
// It unwraps to ErrSameUnit or ErrMalformedRule.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func newValidationError(field, reason string, kind error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, kind: kind}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.kind
}
