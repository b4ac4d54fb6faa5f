package body

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

// Bus is the request/reply contract every transport binding provides.
type Bus interface {
	// Request sends a request envelope and waits for the correlated reply.
	// It returns the reply payload, or a typed error: Timeout, NotFound,
	// Connection, Serialization, or the kind the remote handler reported.
	Request(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error)

	// Subscribe serves all future requests on subject with h. A later
	// Subscribe on the same subject replaces h and never fails for that
	// reason.
	Subscribe(subject string, h Handler) error
}

// Handler serves requests for one subject.
type Handler interface {
	Handle(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	return f(ctx, env)
}

// safeHandle invokes h and turns a panic into an Internal error.
func safeHandle(ctx context.Context, h Handler, env *envelope.Envelope) (payload json.RawMessage, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = cerrors.RecoverPanic(r)
			panicked = true
		}
	}()
	payload, err = h.Handle(ctx, env)
	return payload, false, err
}

// Call encodes in, requests service.verb and decodes the reply into out.
// out may be nil when the reply is not needed.
func Call(ctx context.Context, b Bus, service, verb, schema string, in, out any) error {
	payload, err := envelope.EncodePayload(in)
	if err != nil {
		return err
	}
	reply, err := b.Request(ctx, envelope.NewRequest(service, verb, schema, payload))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return cerrors.Serialization(fmt.Sprintf("decode reply from %s", envelope.Subject(service, verb)), cerrors.WithCause(err))
	}
	return nil
}
