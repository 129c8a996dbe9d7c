package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError for boundary-level handling: an outer
// HTTP surface maps each code to a status class when it translates a
// core error into a response.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail   ErrorCode = "SERVICE_UNAVAILABLE"
	CodeBudgetExceeded   ErrorCode = "BUDGET_EXCEEDED"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodePolicyViolation  ErrorCode = "INPUT_POLICY_VIOLATION"
	CodeStorage          ErrorCode = "STORAGE_ERROR"
)

// AppError is the boundary error type: every error that crosses a component
// boundary (entry point, kernel) either is one of these or gets wrapped
// into one before it reaches a caller outside the core.
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

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewStorageError wraps a memory-backend failure. Storage errors are
// typically logged and swallowed by the caller (a memory write is
// best-effort) — this constructor exists so callers that DO want to
// surface it can still do so uniformly.
func NewStorageError(message string, cause error) *AppError {
	return &AppError{Code: CodeStorage, Message: message, Err: cause}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}
