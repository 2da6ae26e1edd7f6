package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application-level failures for the HTTP surface.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeBusy           ErrorCode = "BUSY"
	CodeConfig         ErrorCode = "CONFIG"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError carries an error code alongside the message so handlers can
// map failures to status codes without string matching.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates an INVALID_INPUT error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewBusyError creates a BUSY error (session cap reached).
func NewBusyError(message string) *AppError {
	return &AppError{Code: CodeBusy, Message: message}
}

// NewConfigError creates a CONFIG error.
func NewConfigError(message string) *AppError {
	return &AppError{Code: CodeConfig, Message: message}
}

// NewInternalError creates an INTERNAL_ERROR.
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause creates an INTERNAL_ERROR wrapping a cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// CodeOf extracts the ErrorCode from an error chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsBusy reports whether err is a BUSY error.
func IsBusy(err error) bool {
	return CodeOf(err) == CodeBusy
}
