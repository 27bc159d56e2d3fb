// Package errors gives failures a stable code that the HTTP layer and the CLI can act on.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes
const (
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeCacheDegraded = "CACHE_DEGRADED"
)

// AppError is an error with a code. Cause keeps the underlying error reachable through errors.Is/As.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError without a cause
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap adds context to err. The code of a directly wrapped AppError is kept; anything else is INTERNAL_ERROR.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	code := CodeInternalError
	if appErr, ok := err.(*AppError); ok {
		code = appErr.Code
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode classifies a plain error, keeping it as the cause.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: err.Error(), Cause: err}
}

// GetCode returns the code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// CacheDegraded marks a store failure that was absorbed instead of returned to the caller.
func CacheDegraded(operation string, cause error) *AppError {
	return &AppError{
		Code:    CodeCacheDegraded,
		Message: fmt.Sprintf("cache %s failed", operation),
		Cause:   cause,
	}
}
