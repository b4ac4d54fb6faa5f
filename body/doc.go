// Package body implements the Cell Body System request/reply bus.
//
// Cells talk to each other through envelopes addressed by subject,
// cbs.<service>.<verb>. A Bus sends a request and waits for exactly one
// reply, or serves a subject with a Handler. Two bindings are provided:
//
//   - TransportBus runs over a bus.MessageBus, normally NATS. Each subject is
//     a queue subscription in its service's group, so running several copies
//     of a cell spreads requests across them.
//   - LocalBus calls handlers in-process, for tests and single-binary demos.
//
// Both report failures with the kinds in package errors. Across the wire
// only BadRequest, NotFound and Timeout keep their kind; every other
// handler error arrives as Internal with its message intact.
//
// Basic usage:
//
//	b, err := body.Connect(ctx, body.DefaultConfig(), body.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	b.Subscribe("cbs.greeter.say_hello", body.HandlerFunc(func(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
//		return envelope.EncodePayload(map[string]string{"message": "hi"})
//	}))
//
//	var out Greeting
//	err = body.Call(ctx, b, "greeter", "say_hello", "cbs/v1/Greet", in, &out)
package body
