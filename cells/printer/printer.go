// Package printer provides the I/O cell that prints messages.
package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

const (
	ID      = "io_print_greeting"
	Subject = "cbs.printer.write"
	Schema  = "demo/v1/Message"
)

// Request is the write payload.
type Request struct {
	Message string `json:"message"`
}

// Response is the write reply. MessageLength counts bytes.
type Response struct {
	Printed       bool   `json:"printed"`
	MessageLength int    `json:"message_length"`
	Timestamp     string `json:"timestamp"`
}

// Cell writes each message on its own line.
type Cell struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

var _ body.Cell = (*Cell)(nil)

// New creates a printer writing to out.
func New(out io.Writer) *Cell {
	return &Cell{out: out, now: time.Now}
}

// NewStdout creates a printer on standard output.
func NewStdout() *Cell {
	return New(os.Stdout)
}

func (c *Cell) ID() string { return ID }

func (c *Cell) Subjects() []string { return []string{Subject} }

// Register subscribes the write handler.
func (c *Cell) Register(b body.Bus) error {
	return b.Subscribe(Subject, body.HandlerFunc(c.handle))
}

// Print writes message and a newline.
func (c *Cell) Print(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Cell) handle(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	message, ok := messageOf(env.Payload)
	if !ok {
		return nil, cerrors.BadRequest("Missing 'message' field in payload")
	}

	if err := c.Print(message); err != nil {
		return nil, cerrors.Internal(err.Error(), cerrors.WithCause(err))
	}

	return envelope.EncodePayload(Response{
		Printed:       true,
		MessageLength: len(message),
		Timestamp:     c.now().UTC().Format(time.RFC3339Nano),
	})
}

// messageOf extracts a string "message" field. Empty strings are valid.
func messageOf(payload json.RawMessage) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", false
	}
	raw, ok := fields["message"]
	if !ok {
		return "", false
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil || string(raw) == "null" {
		return "", false
	}
	return message, true
}
