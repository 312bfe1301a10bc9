package common

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError. The HTTP layer maps them onto status
// codes and echoes them in the response envelope.
const (
	CodeValidation    = "VALIDATION_FAILED"
	CodeInvalidStatus = "INVALID_STATUS"
	CodeStore         = "STORE_FAILED"
	CodeDecode        = "DECODE_FAILED"
	CodeConfig        = "CONFIG_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match an AppError against the sentinel for its code.
func (e *AppError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Code == CodeValidation
	case ErrInvalidStatus:
		return e.Code == CodeInvalidStatus
	case ErrStore:
		return e.Code == CodeStore
	case ErrDecode:
		return e.Code == CodeDecode
	case ErrInvalidInput:
		return e.Code == CodeConfig
	}
	return false
}

// Common application errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrValidation    = errors.New("validation failed")
	ErrInvalidStatus = errors.New("invalid status")
	ErrStore         = errors.New("store failure")
	ErrDecode        = errors.New("decode failure")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ValidationError(message string) error {
	return NewAppError(CodeValidation, message, nil)
}

func ValidationErrorf(format string, args ...interface{}) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

func StoreError(message string, cause error) error {
	return NewAppError(CodeStore, message, cause)
}

func DecodeError(message string, cause error) error {
	return NewAppError(CodeDecode, message, cause)
}

// CodeOf returns the AppError code wrapped in err, or "" when err carries none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
