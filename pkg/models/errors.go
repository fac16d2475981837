package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to API callers.
type ErrorCode string

const (
	CodeSTTFailure         ErrorCode = "STT_FAILURE"
	CodeTTSFailure         ErrorCode = "TTS_FAILURE"
	CodeModelUnavailable   ErrorCode = "MODEL_UNAVAILABLE"
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionClosed      ErrorCode = "SESSION_CLOSED"
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
)

// Error carries a code plus an optional user-facing message and cause.
// errors.Is matches any two *Error values with the same code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

var (
	ErrSTTFailure         = &Error{Code: CodeSTTFailure}
	ErrTTSFailure         = &Error{Code: CodeTTSFailure}
	ErrModelUnavailable   = &Error{Code: CodeModelUnavailable}
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable}
	ErrSessionNotFound    = &Error{Code: CodeSessionNotFound}
	ErrSessionClosed      = &Error{Code: CodeSessionClosed}
	ErrValidation         = &Error{Code: CodeValidation}
)

// NewError builds a coded error wrapping cause (which may be nil).
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
