package errors

// ErrorCategory tells a caller whether sending the same request again can
// help.
type ErrorCategory string

const (
	// CategoryTransient failures may clear up: an expired deadline or an
	// unreachable broker.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent failures repeat on retry: a malformed payload or a
	// subject nobody serves.
	CategoryPermanent ErrorCategory = "permanent"

	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string { return string(c) }

// IsRetryable is true for transient failures only.
func (c ErrorCategory) IsRetryable() bool { return c == CategoryTransient }

// ErrorCode is the kind of a bus error.
type ErrorCode string

// Wire codes. These four are the only values ErrorDetails.code carries.
const (
	ErrCodeTimeout    ErrorCode = "Timeout"
	ErrCodeBadRequest ErrorCode = "BadRequest"
	ErrCodeNotFound   ErrorCode = "NotFound"
	ErrCodeInternal   ErrorCode = "Internal"
)

// Local codes. A remote caller sees them as Internal.
const (
	ErrCodeConnection    ErrorCode = "Connection"
	ErrCodeSerialization ErrorCode = "Serialization"
)

type codeInfo struct {
	prefix   string
	category ErrorCategory
	wire     bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeTimeout:       {"request timeout", CategoryTransient, true},
	ErrCodeBadRequest:    {"bad request", CategoryPermanent, true},
	ErrCodeNotFound:      {"not found", CategoryPermanent, true},
	ErrCodeInternal:      {"internal error", CategoryInternal, true},
	ErrCodeConnection:    {"connection error", CategoryTransient, false},
	ErrCodeSerialization: {"serialization error", CategoryPermanent, false},
}

func (c ErrorCode) String() string { return string(c) }

// DefaultCategory is the category an error of this kind starts with.
// Unknown codes are internal.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	if info, ok := codes[c]; ok {
		return info.category
	}
	return CategoryInternal
}

// Description is the prefix Error() puts before the message.
func (c ErrorCode) Description() string {
	if info, ok := codes[c]; ok {
		return info.prefix
	}
	return "unknown error"
}

// fold maps c onto the wire: BadRequest, NotFound and Timeout keep their
// kind and everything else becomes Internal.
func (c ErrorCode) fold() ErrorCode {
	if !codes[c].wire {
		return ErrCodeInternal
	}
	return c
}

// FromCode rebuilds a typed error from a wire code. Unknown codes, and
// local codes that should never have been sent, become Internal.
func FromCode(code, message string, opts ...Option) *Error {
	return New(ErrorCode(code).fold(), message, opts...)
}

// WireCode returns the code err is reported with on the wire. Plain Go
// errors are Internal.
func WireCode(err error) ErrorCode {
	return Code(err).fold()
}
