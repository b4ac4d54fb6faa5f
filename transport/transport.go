package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

// Common errors.
var (
	ErrClosed = errors.New("transport closed")
)

// Transport provides bidirectional envelope passing with one client.
type Transport interface {
	// Recv returns channel for incoming request envelopes.
	// Channel is closed when the client goes away or the transport shuts down.
	Recv() <-chan *envelope.Envelope

	// Send queues an envelope for delivery.
	// Returns ErrClosed if transport is closed.
	Send(env *envelope.Envelope) error

	// Run starts the transport, blocks until ctx cancelled or Close.
	Run(ctx context.Context) error

	// Close initiates graceful shutdown.
	Close() error
}

// ParseInbound decodes one client frame into a routable request envelope.
// Every failure is BadRequest: a malformed frame is the client's fault.
func ParseInbound(data []byte) (*envelope.Envelope, error) {
	env, err := envelope.Unmarshal(data)
	if err != nil {
		return nil, cerrors.BadRequest(cerrors.MessageOf(err), cerrors.WithCause(err))
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.IsError() {
		return nil, cerrors.BadRequest("error envelopes are not accepted")
	}
	if err := envelope.ValidateSegment(env.Service); err != nil {
		return nil, err
	}
	if err := envelope.ValidateSegment(env.Verb); err != nil {
		return nil, err
	}
	return env, nil
}

// MarshalOutbound serializes an envelope for the client.
func MarshalOutbound(env *envelope.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("empty outbound envelope")
	}
	return envelope.Marshal(env)
}

// rejectFrame builds the error reply for a frame ParseInbound refused.
// Whatever routing fields can be recovered are echoed back.
func rejectFrame(raw []byte, err error) *envelope.Envelope {
	var partial struct {
		ID      string `json:"id"`
		Service string `json:"service"`
		Verb    string `json:"verb"`
		Schema  string `json:"schema"`
	}
	json.Unmarshal(raw, &partial)

	return envelope.NewError(partial.ID, partial.Service, partial.Verb, partial.Schema,
		envelope.DetailsFromError(err))
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the internal send buffer.
	// Default: 100
	SendBufferSize int

	// MaxFrameSize limits a single inbound frame in bytes.
	// Default: 1MB
	MaxFrameSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
		MaxFrameSize:   1024 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	return c
}
