package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// BusError is implemented by every typed error a bus returns.
type BusError interface {
	error
	Code() ErrorCode
	Category() ErrorCategory

	// Retryable reports whether the same request may succeed if sent again.
	Retryable() bool

	// Message is the text without the kind prefix. It is what a remote
	// caller sees in ErrorDetails.message.
	Message() string

	Unwrap() error
}

// Error is the concrete BusError.
type Error struct {
	code     ErrorCode
	category ErrorCategory
	message  string
	cause    error
	subject  string
	details  json.RawMessage
	at       time.Time

	// retry overrides the category default when set.
	retry *bool
}

var (
	_ BusError         = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error formats as "<kind>: <message>[: <cause>]", e.g.
// "bad request: Name cannot be empty".
func (e *Error) Error() string {
	msg := e.code.Description()
	if e.message != "" {
		msg = msg + ": " + e.message
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Code() ErrorCode         { return e.code }
func (e *Error) Category() ErrorCategory { return e.category }
func (e *Error) Message() string         { return e.message }
func (e *Error) Unwrap() error           { return e.cause }

// Subject is the bus subject the failure relates to, if recorded.
func (e *Error) Subject() string { return e.subject }

// Details is the structured context carried next to the message.
func (e *Error) Details() json.RawMessage { return e.details }

// Timestamp is when the error was created.
func (e *Error) Timestamp() time.Time { return e.at }

func (e *Error) Retryable() bool {
	if e.retry != nil {
		return *e.retry
	}
	return e.category.IsRetryable()
}

// wireError mirrors envelope.ErrorDetails so an *Error marshals to exactly
// what a remote caller receives.
type wireError struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON encodes the error as it travels on the wire. Local-only kinds
// are reported as Internal; cause, subject and timestamp stay local.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireError{
		Code:    WireCode(e),
		Message: e.message,
		Details: e.details,
	})
}

// UnmarshalJSON decodes wire error details, folding unknown codes to
// Internal the same way FromCode does.
func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode error details: %w", err)
	}
	*e = *FromCode(string(w.Code), w.Message, WithDetails(w.Details))
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithRetryable overrides the category's retry default.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retry = &retryable }
}

// WithSubject records the subject the failure relates to.
func WithSubject(subject string) Option {
	return func(e *Error) { e.subject = subject }
}

// WithDetails attaches structured context. Empty input is ignored.
func WithDetails(details json.RawMessage) Option {
	return func(e *Error) {
		if len(details) > 0 {
			e.details = details
		}
	}
}

// WithCause records the underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error of the given kind.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
		at:       time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Kind constructors.

func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

func BadRequest(message string, opts ...Option) *Error {
	return New(ErrCodeBadRequest, message, opts...)
}

func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Connection reports a broker connect, reconnect or publish failure.
func Connection(message string, opts ...Option) *Error {
	return New(ErrCodeConnection, message, opts...)
}

// Serialization reports an envelope that could not be encoded or decoded.
func Serialization(message string, opts ...Option) *Error {
	return New(ErrCodeSerialization, message, opts...)
}
