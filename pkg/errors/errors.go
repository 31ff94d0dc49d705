package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies session subsystem errors for wire payloads and logs.
type ErrorCode string

const (
	ErrCodeAuthFailed         ErrorCode = "AUTH_FAILED"
	ErrCodeConnectTimeout     ErrorCode = "CONNECT_TIMEOUT"
	ErrCodeConnectionLost     ErrorCode = "CONNECTION_LOST"
	ErrCodeSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED"
	ErrCodeSendFailed         ErrorCode = "SEND_FAILED"
	ErrCodeAlreadyJoined      ErrorCode = "ALREADY_JOINED"
	ErrCodeNotJoined          ErrorCode = "NOT_JOINED"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code plus optional context across component boundaries.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func NewAuthError(message string) *AppError {
	return New(ErrCodeAuthFailed, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// GetAppError extracts an AppError from anywhere in the error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the error code, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
