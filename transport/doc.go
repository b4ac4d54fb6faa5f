// Package transport lets clients outside the bus send request envelopes to
// cells.
//
// # Overview
//
// A Transport carries envelope frames to and from one client. A Gateway
// forwards each inbound request onto a body.Bus and sends the reply, success
// or error, back on the same transport with the request's id.
//
// # Available Transports
//
//   - StdioTransport: newline-delimited JSON on stdin/stdout (for scripting)
//   - WebSocketTransport: one envelope per text message (for browsers)
//
// # Usage
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	gw := transport.NewGateway(b)
//	err := gw.Serve(ctx, t)
//
// Frames that do not decode, or that name an invalid service or verb, are
// answered with a BadRequest error envelope echoing whatever id could be
// recovered. They never reach the bus.
//
// # Thread Safety
//
// All transport methods are safe for concurrent use. The Recv() channel
// is closed when the client goes away.
package transport
