package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors crossing the daemon boundary.
type ErrorCode string

const (
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrStorage    ErrorCode = "STORAGE_ERROR"
	ErrConfig     ErrorCode = "CONFIG_ERROR"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error returned by daemon operations and carried
// over the RPC wire.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a NOT_FOUND error for a job id.
func NewNotFoundError(id int64) *Error {
	return &Error{Code: ErrNotFound, Message: fmt.Sprintf("job %d not found", id)}
}

// NewValidationError creates a VALIDATION_ERROR.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError creates a CONFLICT error.
func NewConflictError(format string, args ...any) *Error {
	return &Error{Code: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NewStorageError wraps a persistence failure. The originating mutation has
// not been applied to in-memory state.
func NewStorageError(err error) *Error {
	return &Error{Code: ErrStorage, Message: err.Error()}
}

// NewConfigError creates a CONFIG_ERROR for a bad key or value.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrConfig, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}
