package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func send(t *testing.T, c *Cell, payload string) (*Response, error) {
	t.Helper()
	b := body.NewLocalBus()
	if err := c.Register(b); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	reply, err := b.Request(context.Background(),
		envelope.NewRequest("printer", "write", Schema, json.RawMessage(payload)))
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return &resp, nil
}

// --- Unit Tests ---

func TestPrint(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Hello World!", "Hello World!\n"},
		{"empty", "", "\n"},
		{"multiline", "Line 1\nLine 2\nLine 3", "Line 1\nLine 2\nLine 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := New(&buf).Print(tt.in); err != nil {
				t.Fatalf("Print error: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

// --- Integration Tests ---

func TestCell_Write(t *testing.T) {
	var buf bytes.Buffer
	resp, err := send(t, New(&buf), `{"message":"Hello Ada!"}`)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if !resp.Printed || resp.MessageLength != 10 {
		t.Errorf("resp = %+v", resp)
	}
	if buf.String() != "Hello Ada!\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestCell_EmptyMessage(t *testing.T) {
	var buf bytes.Buffer
	resp, err := send(t, New(&buf), `{"message":""}`)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.MessageLength != 0 || buf.String() != "\n" {
		t.Errorf("resp = %+v, output = %q", resp, buf.String())
	}
}

// --- Failure Tests ---

func TestCell_MissingMessage(t *testing.T) {
	payloads := []string{`{}`, `{"message":null}`, `{"message":7}`, `null`, `"text"`}

	for _, p := range payloads {
		var buf bytes.Buffer
		_, err := send(t, New(&buf), p)
		if !cerrors.Is(err, cerrors.ErrCodeBadRequest) {
			t.Errorf("payload %s: error = %v, want BadRequest", p, err)
			continue
		}
		if cerrors.MessageOf(err) != "Missing 'message' field in payload" {
			t.Errorf("payload %s: message = %q", p, cerrors.MessageOf(err))
		}
		if buf.Len() != 0 {
			t.Errorf("payload %s: nothing should be printed, got %q", p, buf.String())
		}
	}
}

func TestCell_WriteFailure(t *testing.T) {
	_, err := send(t, New(failingWriter{}), `{"message":"hi"}`)
	if !cerrors.Is(err, cerrors.ErrCodeInternal) {
		t.Errorf("error = %v, want Internal", err)
	}
}
