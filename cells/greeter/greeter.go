// Package greeter provides the logic cell that turns a name into a greeting.
package greeter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
)

const (
	// ID is the cell's identifier in application manifests.
	ID = "logic_greet"

	// Subject is the subject the cell serves.
	Subject = "cbs.greeter.say_hello"

	// Schema names the request payload.
	Schema = "demo/v1/Name"
)

// Request is the say_hello payload.
type Request struct {
	Name string `json:"name"`
}

// Response is the say_hello reply.
type Response struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Cell formats greetings.
type Cell struct {
	now func() time.Time
}

var _ body.Cell = (*Cell)(nil)

// New creates a greeter cell.
func New() *Cell {
	return &Cell{now: time.Now}
}

// ID returns the cell identifier.
func (c *Cell) ID() string { return ID }

// Subjects returns the subjects the cell serves.
func (c *Cell) Subjects() []string { return []string{Subject} }

// Register subscribes the greeting handler.
func (c *Cell) Register(b body.Bus) error {
	return b.Subscribe(Subject, body.HandlerFunc(c.handle))
}

// Greeting formats the greeting for name. Blank names get a generic one.
func Greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello there!"
	}
	return "Hello " + name + "!"
}

// handle never fails: a missing, null or non-string name is treated as blank.
func (c *Cell) handle(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	return envelope.EncodePayload(Response{
		Message:   Greeting(nameOf(env.Payload)),
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	})
}

func nameOf(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	var name string
	if err := json.Unmarshal(fields["name"], &name); err != nil {
		return ""
	}
	return name
}
