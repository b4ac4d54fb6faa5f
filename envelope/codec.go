package envelope

import (
	"encoding/json"

	cerrors "github.com/vinayprograms/cellbus/errors"
)

// Marshal encodes an envelope as JSON.
func Marshal(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, cerrors.Serialization("encode envelope", cerrors.WithCause(err))
	}
	return data, nil
}

// Unmarshal decodes an envelope. Only the JSON shape is checked, so every
// envelope Marshal produces decodes back unchanged; callers that route the
// result check it with Validate.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, cerrors.Serialization("decode envelope", cerrors.WithCause(err))
	}
	return &e, nil
}

// EncodePayload marshals v for use as an envelope payload.
func EncodePayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, cerrors.Serialization("encode payload", cerrors.WithCause(err))
	}
	return data, nil
}

// MustPayload is EncodePayload for values that always marshal, such as maps
// of strings. It panics on failure.
func MustPayload(v any) json.RawMessage {
	data, err := EncodePayload(v)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodePayload unmarshals the payload into v. A missing or malformed payload
// is the caller's fault, so failures are BadRequest.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return cerrors.BadRequest("missing payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return cerrors.BadRequest("invalid payload: "+err.Error(), cerrors.WithCause(err))
	}
	return nil
}
