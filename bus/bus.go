// Package bus provides the raw publish/subscribe transport that cells talk over.
//
// The MessageBus interface carries opaque byte payloads with optional string
// headers. It knows nothing about envelopes; package body layers the
// request/reply contract on top of it.
package bus

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrTimeout        = errors.New("request timeout")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Header carries out-of-band metadata such as trace context.
// It satisfies the OpenTelemetry TextMapCarrier interface.
type Header map[string]string

// Get returns the value for key, or "".
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// Set stores a value. Setting on a nil Header is a no-op.
func (h Header) Set(key, value string) {
	if h == nil {
		return
	}
	h[key] = value
}

// Keys returns the header keys in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Message represents a message received from or sent to the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Reply is the reply subject for request/reply.
	// Empty for plain published messages.
	Reply string

	// Data is the message payload.
	Data []byte

	// Header is optional metadata. May be nil.
	Header Header
}

// NewMessage creates a message with an empty header.
func NewMessage(subject string, data []byte) *Message {
	return &Message{
		Subject: subject,
		Data:    data,
		Header:  Header{},
	}
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends data to every subscriber of a subject.
	Publish(subject string, data []byte) error

	// PublishMsg sends a message, including its reply subject and header.
	PublishMsg(msg *Message) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Each message goes to one member of the queue group.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Request publishes msg with a private reply subject and waits for the
	// first reply. It returns ErrTimeout when ctx expires, ErrNoResponders
	// when nobody is subscribed, and ErrClosed after Close.
	Request(ctx context.Context, msg *Message) (*Message, error)

	// IsConnected reports whether the bus can currently deliver messages.
	IsConnected() bool

	// Close shuts down the bus. Every open subscription channel is closed.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Subject returns the subscribed subject.
	Subject() string

	// Messages returns the channel for incoming messages.
	// The channel is closed when the subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription. Safe to call more than once.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks that a subject is non-empty, has no whitespace and
// no empty tokens.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// ReconnectPolicy returns the delay before reconnect attempt n (1-based).
type ReconnectPolicy func(attempt int) time.Duration

// LinearBackoff waits base*attempt before each reconnect attempt.
func LinearBackoff(base time.Duration) ReconnectPolicy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(attempt)
	}
}
