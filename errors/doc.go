// Package errors provides the error taxonomy shared by every bus binding.
//
// # Error Kinds
//
// Callers of Request and Subscribe, and handlers themselves, see six kinds:
//
//   - Timeout: no reply received before the deadline
//   - BadRequest: malformed input, caller supplied or handler detected
//   - NotFound: no handler registered for the subject
//   - Internal: unclassified handler failure or protocol violation
//   - Connection: broker connect, reconnect or publish failure
//   - Serialization: envelope encode or decode failure
//
// # Wire Codes
//
// Only the code string crosses the wire. A receiving bus rebuilds the kind
// with FromCode, which recognises "BadRequest", "NotFound" and "Timeout" and
// turns everything else into Internal. A handler's error is reported with
// WireCode, so Connection and Serialization failures inside a handler arrive
// at the caller as Internal. The boundary is lossy on purpose.
//
// # Usage
//
//	err := errors.BadRequest("name cannot be empty")
//
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // no cell serves the subject
//	}
//
//	remote := errors.FromCode(details.Code, details.Message)
package errors
