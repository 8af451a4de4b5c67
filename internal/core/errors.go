package core

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrBadRequest    ErrorCode = "HEARTH_BAD_REQUEST"
	ErrNotFound      ErrorCode = "HEARTH_NOT_FOUND"
	ErrCapacity      ErrorCode = "HEARTH_CAPACITY"
	ErrPrecondition  ErrorCode = "HEARTH_PRECONDITION_FAILED"
	ErrConflict      ErrorCode = "HEARTH_CONFLICT"
	ErrTimeout       ErrorCode = "HEARTH_TIMEOUT"
	ErrRuntime       ErrorCode = "HEARTH_RUNTIME_ERROR"
	ErrUnreachable   ErrorCode = "HEARTH_UNREACHABLE"
	ErrInternal      ErrorCode = "HEARTH_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflict:
		return 409
	case ErrPrecondition:
		return 412
	case ErrCapacity:
		return 429
	case ErrRuntime, ErrUnreachable:
		return 502
	case ErrTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func Errorf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, or HEARTH_INTERNAL for errors
// that did not originate in this module.
func CodeOf(err error) ErrorCode {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return ErrInternal
}

// IsNotFound reports whether err is a workspace- or container-not-found
// condition. Callers branch on this to decide recreate vs. retry.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}
