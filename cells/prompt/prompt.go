// Package prompt provides the I/O cell that asks for a name.
package prompt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

const (
	ID      = "io_prompt_name"
	Subject = "cbs.prompt_name.read"
	Schema  = "demo/v1/Prompt"

	// DefaultPrompt is written when the request names none.
	DefaultPrompt = "Enter your name: "
)

// Request is the read payload. TestInput, when set, is used as the answer
// without touching the terminal.
type Request struct {
	Prompt    string `json:"prompt,omitempty"`
	TestInput string `json:"test_input,omitempty"`
}

// Response is the read reply. Length counts bytes.
type Response struct {
	Name      string `json:"name"`
	Length    int    `json:"length"`
	Timestamp string `json:"timestamp"`
}

// Cell reads one line per request from its input.
type Cell struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	now func() time.Time
}

var _ body.Cell = (*Cell)(nil)

// New creates a prompt cell reading from in and prompting on out.
func New(in io.Reader, out io.Writer) *Cell {
	return &Cell{
		in:  bufio.NewReader(in),
		out: out,
		now: time.Now,
	}
}

// NewStdio creates a prompt cell on the process terminal.
func NewStdio() *Cell {
	return New(os.Stdin, os.Stdout)
}

func (c *Cell) ID() string { return ID }

func (c *Cell) Subjects() []string { return []string{Subject} }

// Register subscribes the read handler.
func (c *Cell) Register(b body.Bus) error {
	return b.Subscribe(Subject, body.HandlerFunc(c.handle))
}

// ReadName writes prompt and returns the next input line, trimmed.
// Requests are serialized so prompts and answers never interleave.
func (c *Cell) ReadName(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.out, prompt); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	if f, ok := c.out.(interface{ Sync() error }); ok {
		f.Sync()
	}

	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *Cell) handle(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	var req Request
	if len(env.Payload) > 0 {
		// Unknown or mistyped fields fall back to the defaults.
		json.Unmarshal(env.Payload, &req)
	}
	if req.Prompt == "" {
		req.Prompt = DefaultPrompt
	}

	name := req.TestInput
	if name == "" {
		var err error
		if name, err = c.ReadName(req.Prompt); err != nil {
			return nil, cerrors.Internal(err.Error(), cerrors.WithCause(err))
		}
	}

	if name == "" {
		return nil, cerrors.BadRequest("Name cannot be empty")
	}

	return envelope.EncodePayload(Response{
		Name:      name,
		Length:    len(name),
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	})
}
