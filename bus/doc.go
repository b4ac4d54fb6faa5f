// Package bus provides the raw publish/subscribe transport that cells talk over.
//
// # Overview
//
// MessageBus moves opaque byte payloads between subjects. Package body builds
// the typed envelope contract on top of it; nothing here knows about
// envelopes, handlers or error kinds.
//
// # Available Implementations
//
//   - NATSBus: NATS client binding with a linear reconnect policy
//   - MemoryBus: in-process broker for tests and single-process deployments
//
// Both report ErrNoResponders immediately when a request targets a subject
// nobody subscribes to, and ErrTimeout when the request context expires.
//
// # Patterns
//
// Queue groups load-balance a subject across cell instances:
//
//	sub, _ := b.QueueSubscribe("cbs.greeter.say_hello", "greeter")
//	for msg := range sub.Messages() {
//	    b.PublishMsg(&bus.Message{Subject: msg.Reply, Data: reply})
//	}
//
// Request/reply:
//
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	reply, err := b.Request(ctx, bus.NewMessage("cbs.greeter.say_hello", data))
//
// # Headers
//
// Message.Header carries metadata that must not live in the payload, such as
// W3C trace context. Header satisfies the OpenTelemetry TextMapCarrier
// interface, so propagators can inject into and extract from it directly.
//
// # Reconnects
//
// NATSConfig.ReconnectDelay is a ReconnectPolicy. The default,
// LinearBackoff(500ms), waits 500ms, 1s, 1.5s and so on, up to
// MaxReconnects attempts.
package bus
