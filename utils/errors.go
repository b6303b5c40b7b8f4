package utils

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable classification of an AppError
type ErrorKind string

const (
	KindValidation   ErrorKind = "VALIDATION"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindNetwork      ErrorKind = "NETWORK"
	KindInternal     ErrorKind = "INTERNAL"
)

// AppError represents a custom application error with context
type AppError struct {
	Kind    ErrorKind              // Stable error kind
	Code    int                    // HTTP status code
	Message string                 // User-friendly message
	Err     error                  // Underlying error
	Context map[string]interface{} // Additional context
}

// NewAppError creates a new AppError
func NewAppError(kind ErrorKind, code int, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying error to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

// KindOf returns the kind of err, or KindInternal when err is not an AppError
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Common error constructors
func ValidationError(message string, err error) *AppError {
	return NewAppError(KindValidation, 400, message, err)
}

// BadRequestError is kept as an alias of ValidationError for request parsing failures
func BadRequestError(message string, err error) *AppError {
	return ValidationError(message, err)
}

func UnauthorizedError(message string, err error) *AppError {
	return NewAppError(KindUnauthorized, 401, message, err)
}

func ForbiddenError(message string, err error) *AppError {
	return NewAppError(KindForbidden, 403, message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(KindNotFound, 404, message, err)
}

func NetworkError(message string, err error) *AppError {
	return NewAppError(KindNetwork, 502, message, err)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(KindInternal, 500, message, err)
}
