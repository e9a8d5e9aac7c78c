package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable error tag returned to API clients.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError carries the HTTP shape of a failure alongside its cause, so
// handlers can return one value and middleware can render it.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause attaches the underlying error without changing the rendered
// message.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: resource + " not found", HTTPStatus: http.StatusNotFound}
}

func NewRateLimitError() *AppError {
	return &AppError{Code: ErrCodeRateLimit, Message: "rate limit exceeded", HTTPStatus: http.StatusTooManyRequests}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError}
}

// GetAppError walks the error chain for an AppError; nil means the error
// has no HTTP shape and should render as a generic 500.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
