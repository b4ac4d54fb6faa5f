// Package envelope defines the message unit exchanged between cells.
//
// An Envelope is either a request, a successful response carrying a payload,
// or an error response carrying ErrorDetails. Responses reuse the id of the
// request they answer. The subject an envelope travels on is derived from its
// service and verb and is never stored.
package envelope

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	cerrors "github.com/vinayprograms/cellbus/errors"
)

// SubjectPrefix starts every routable subject.
const SubjectPrefix = "cbs."

// DefaultQueueGroup is used for subjects outside the cbs namespace.
const DefaultQueueGroup = "default"

// null is the payload of a success response built without one.
var null = json.RawMessage("null")

// Envelope is one in-flight message.
type Envelope struct {
	ID      string          `json:"id"`
	Service string          `json:"service"`
	Verb    string          `json:"verb"`
	Schema  string          `json:"schema"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetails   `json:"error,omitempty"`
}

// ErrorDetails is the wire form of a handler failure.
type ErrorDetails struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// NewRequest builds a request with a fresh random id.
func NewRequest(service, verb, schema string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:      uuid.NewString(),
		Service: service,
		Verb:    verb,
		Schema:  schema,
		Payload: normalize(payload),
	}
}

// NewResponse builds a success response answering request id.
func NewResponse(id, service, verb, schema string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:      id,
		Service: service,
		Verb:    verb,
		Schema:  schema,
		Payload: normalize(payload),
	}
}

// NewError builds an error response answering request id.
func NewError(id, service, verb, schema string, details ErrorDetails) *Envelope {
	return &Envelope{
		ID:      id,
		Service: service,
		Verb:    verb,
		Schema:  schema,
		Error:   &details,
	}
}

// ResponseTo answers req with payload.
func ResponseTo(req *Envelope, payload json.RawMessage) *Envelope {
	return NewResponse(req.ID, req.Service, req.Verb, req.Schema, payload)
}

// ErrorTo answers req with err, classified by its wire code.
func ErrorTo(req *Envelope, err error) *Envelope {
	return NewError(req.ID, req.Service, req.Verb, req.Schema, DetailsFromError(err))
}

func normalize(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return null
	}
	return payload
}

// IsError reports whether the envelope carries an error.
func (e *Envelope) IsError() bool {
	return e.Error != nil
}

// Validate checks that the envelope can be routed and answered: id,
// service and verb are all set. Failures are BadRequest.
func (e *Envelope) Validate() error {
	switch {
	case e.ID == "":
		return cerrors.BadRequest("missing id")
	case e.Service == "":
		return cerrors.BadRequest("missing service")
	case e.Verb == "":
		return cerrors.BadRequest("missing verb")
	}
	return nil
}

// Subject returns "cbs.<service>.<verb>".
func (e *Envelope) Subject() string {
	return Subject(e.Service, e.Verb)
}

// Subject joins a service and verb into a routable subject.
func Subject(service, verb string) string {
	return SubjectPrefix + service + "." + verb
}

// QueueGroup returns the competing-consumer group for a subject: the service
// segment of a cbs subject, or DefaultQueueGroup for anything else.
func QueueGroup(subject string) string {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok {
		return DefaultQueueGroup
	}
	service, _, _ := strings.Cut(rest, ".")
	if service == "" {
		return DefaultQueueGroup
	}
	return service
}

// ParseSubject splits a cbs subject into service and verb.
func ParseSubject(subject string) (service, verb string, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found {
		return "", "", false
	}
	service, verb, found = strings.Cut(rest, ".")
	if !found || service == "" || verb == "" || strings.Contains(verb, ".") {
		return "", "", false
	}
	return service, verb, true
}

var segmentPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateSegment checks that s is a lowercase snake_case identifier.
func ValidateSegment(s string) error {
	if !segmentPattern.MatchString(s) {
		return cerrors.BadRequest("invalid subject segment: " + s)
	}
	return nil
}

// ValidateSubject checks that subject is cbs.<service>.<verb> with valid segments.
func ValidateSubject(subject string) error {
	service, verb, ok := ParseSubject(subject)
	if !ok {
		return cerrors.BadRequest("invalid subject: " + subject)
	}
	if err := ValidateSegment(service); err != nil {
		return err
	}
	return ValidateSegment(verb)
}

// NewErrorDetails builds wire error details without context.
func NewErrorDetails(code, message string) ErrorDetails {
	return ErrorDetails{Code: code, Message: message}
}

// NewErrorDetailsWithContext builds wire error details with structured context.
func NewErrorDetailsWithContext(code, message string, details json.RawMessage) ErrorDetails {
	return ErrorDetails{Code: code, Message: message, Details: details}
}

// DetailsFromError converts a handler error into wire details. The code is
// the error's wire code and the message is its bare message.
func DetailsFromError(err error) ErrorDetails {
	d := ErrorDetails{
		Code:    string(cerrors.WireCode(err)),
		Message: cerrors.MessageOf(err),
	}
	if typed := cerrors.AsError(err); typed != nil {
		d.Details = typed.Details()
	}
	return d
}

// Err rebuilds the typed error a remote handler reported.
func (d ErrorDetails) Err() error {
	var opts []cerrors.Option
	if len(d.Details) > 0 {
		opts = append(opts, cerrors.WithDetails(d.Details))
	}
	return cerrors.FromCode(d.Code, d.Message, opts...)
}
