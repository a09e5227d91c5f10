package throttle

import (
	"errors"
	"fmt"
)

// Error is returned by the throttle for every failure it originates itself.
// Errors produced by the wrapped operations are delivered unchanged and never
// wrapped in an Error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Method names the operation involved, when there is one.
	Method string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes throttle errors.
type ErrorCode string

const (
	// ErrCodeInvalidTarget means New was given something that is not a struct, pointer to struct or map.
	ErrCodeInvalidTarget ErrorCode = "INVALID_TARGET"

	// ErrCodeInvalidArgument means an option was given an out-of-range value.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeInvalidThrottle means NewFilter was given a nil or closed throttle.
	ErrCodeInvalidThrottle ErrorCode = "INVALID_THROTTLE"

	// ErrCodeUnknownOperation means Call named a method missing from the dispatch table.
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeClosed means the throttle no longer accepts or dispatches calls.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeFilterDeleted means the filter was deleted and is inert.
	ErrCodeFilterDeleted ErrorCode = "FILTER_DELETED"

	// ErrCodeBadArguments means call arguments could not be bound to a reflected method.
	ErrCodeBadArguments ErrorCode = "BAD_ARGUMENTS"

	// ErrCodeOperationPanic means the wrapped operation panicked.
	ErrCodeOperationPanic ErrorCode = "OPERATION_PANIC"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Method != "" {
		msg = fmt.Sprintf("%s (method=%s)", msg, e.Method)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsClosed reports whether err was caused by using a closed throttle.
func IsClosed(err error) bool {
	return CodeOf(err) == ErrCodeClosed
}

// IsFilterDeleted reports whether err was caused by using a deleted filter.
func IsFilterDeleted(err error) bool {
	return CodeOf(err) == ErrCodeFilterDeleted
}

// IsUnknownOperation reports whether err names a method the throttle does not dispatch.
func IsUnknownOperation(err error) bool {
	return CodeOf(err) == ErrCodeUnknownOperation
}

// IsConstructionError reports whether err came from New or NewFilter rejecting its arguments.
func IsConstructionError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidTarget, ErrCodeInvalidArgument, ErrCodeInvalidThrottle:
		return true
	}
	return false
}
