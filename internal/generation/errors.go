package generation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("invalid license request")
	ErrUnsupportedLicenseModel = errors.New("unsupported license model")
	ErrStrategyMismatch        = errors.New("license model does not match strategy")
)

// ValidationError reports the request field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
