package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeInternal         Code = "INTERNAL"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeDeadlineExceeded Code = "DEADLINE_EXCEEDED"
	CodeForbidden        Code = "FORBIDDEN"
)

// AppError is the standard error type returned across package boundaries.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError with the given code and message, wrapping err.
func New(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap attaches message context to err without changing its code, defaulting
// to CodeInternal when err is not already an *AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: message, Err: err}
	}

	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// InvalidArgument builds a CodeInvalidArgument error.
func InvalidArgument(message string, err error) *AppError {
	return New(CodeInvalidArgument, message, err)
}

// Internal builds a CodeInternal error.
func Internal(message string, err error) *AppError {
	return New(CodeInternal, message, err)
}

// NotFound builds a CodeNotFound error.
func NotFound(message string, err error) *AppError {
	return New(CodeNotFound, message, err)
}

// Conflict builds a CodeConflict error.
func Conflict(message string, err error) *AppError {
	return New(CodeConflict, message, err)
}

// Unavailable builds a CodeUnavailable error, used for transient downstream
// failures (broker unreachable, state store timeout).
func Unavailable(message string, err error) *AppError {
	return New(CodeUnavailable, message, err)
}

// DeadlineExceeded builds a CodeDeadlineExceeded error, used when a hard
// wall-clock budget (such as the interaction deferral deadline) is missed.
func DeadlineExceeded(message string, err error) *AppError {
	return New(CodeDeadlineExceeded, message, err)
}

// Forbidden builds a CodeForbidden error.
func Forbidden(message string, err error) *AppError {
	return New(CodeForbidden, message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
