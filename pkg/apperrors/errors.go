package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Code is a stable, machine-readable failure class surfaced across every boundary.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnsupportedSource  Code = "UNSUPPORTED_SOURCE"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodeDBConnectionFailed Code = "DB_CONNECTION_FAILED"
	CodeIOError            Code = "IO_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeCancelled          Code = "CANCELLED"
	CodeTimeout            Code = "TIMEOUT"
	CodeJSON               Code = "JSON_ERROR"
)

// Error is an error carrying a Code. Two Errors match with errors.Is when
// their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New returns a coded error with a message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Sentinels for errors.Is checks by code.
var (
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrUnsupportedSource = New(CodeUnsupportedSource, "unsupported source")
	ErrUnsupportedFormat = New(CodeUnsupportedFormat, "unsupported format")
	ErrDBConnection      = New(CodeDBConnectionFailed, "database connection failed")
	ErrIO                = New(CodeIOError, "io error")
	ErrInternal          = New(CodeInternal, "internal error")
	ErrCancelled         = New(CodeCancelled, "operation cancelled")
	ErrTimeout           = New(CodeTimeout, "operation timed out")
)

// CodeOf classifies err. Coded errors win over context and json errors found
// deeper in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CodeJSON
	}
	return CodeInternal
}

// MessageOf returns the human-readable part of err for error documents.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Error()
	}
	switch CodeOf(err) {
	case CodeCancelled:
		return "operation cancelled"
	case CodeTimeout:
		return "operation timed out"
	}
	return err.Error()
}

// IsUserError reports whether the code describes a caller problem rather
// than an engine fault.
func IsUserError(code Code) bool {
	switch code {
	case CodeInvalidInput, CodeUnsupportedSource, CodeUnsupportedFormat, CodeJSON:
		return true
	}
	return false
}
