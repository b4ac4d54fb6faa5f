package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err and keeps it in the chain. A typed error keeps
// its kind, subject and details; a context error becomes Timeout; any other
// error becomes Internal. Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if typed := AsError(err); typed != nil {
		wrapped := *typed
		wrapped.message = message
		wrapped.cause = err
		for _, opt := range opts {
			opt(&wrapped)
		}
		return &wrapped
	}

	opts = append(opts, WithCause(err))
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(ErrCodeTimeout, message, opts...)
	}
	return New(ErrCodeInternal, message, opts...)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err as the given kind regardless of what err is.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsError returns the first typed error in err's chain, or nil.
func AsError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err's chain holds a typed error of the given kind.
func Is(err error, code ErrorCode) bool {
	typed := AsError(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether err is a typed error that may succeed on retry.
// Untyped errors are not retryable.
func IsRetryable(err error) bool {
	typed := AsError(err)
	return typed != nil && typed.Retryable()
}

// Code returns the kind of err, or "" when err is not typed.
func Code(err error) ErrorCode {
	if typed := AsError(err); typed != nil {
		return typed.code
	}
	return ""
}

// MessageOf returns the text a handler error is reported with on the wire:
// the bare message of a typed error, else err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if typed := AsError(err); typed != nil {
		return typed.message
	}
	return err.Error()
}

// RecoverPanic turns a value recovered from a handler panic into Internal.
func RecoverPanic(recovered interface{}) *Error {
	switch v := recovered.(type) {
	case nil:
		return nil
	case error:
		return Internal("handler panic: " + v.Error())
	case string:
		return Internal("handler panic: " + v)
	default:
		return Internal(fmt.Sprintf("handler panic: %v", v))
	}
}
