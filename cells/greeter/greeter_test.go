package greeter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
)

func TestGreeting(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Alice", "Hello Alice!"},
		{"padded", "  Bob  ", "Hello Bob!"},
		{"empty", "", "Hello there!"},
		{"whitespace only", "   ", "Hello there!"},
		{"accents", "José María", "Hello José María!"},
		{"long", "Supercalifragilisticexpialidocious", "Hello Supercalifragilisticexpialidocious!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Greeting(tt.in); got != tt.want {
				t.Errorf("Greeting(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCell_Metadata(t *testing.T) {
	c := New()
	if c.ID() != "logic_greet" {
		t.Errorf("ID() = %q", c.ID())
	}
	if s := c.Subjects(); len(s) != 1 || s[0] != "cbs.greeter.say_hello" {
		t.Errorf("Subjects() = %v", s)
	}
}

func TestCell_Handle(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"name", `{"name":"Charlie"}`, "Hello Charlie!"},
		{"missing name", `{}`, "Hello there!"},
		{"null name", `{"name":null}`, "Hello there!"},
		{"numeric name", `{"name":42}`, "Hello there!"},
		{"null payload", `null`, "Hello there!"},
		{"array payload", `[1,2]`, "Hello there!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := body.NewLocalBus()
			c := &Cell{now: func() time.Time { return fixed }}
			if err := c.Register(b); err != nil {
				t.Fatalf("Register error: %v", err)
			}

			reply, err := b.Request(context.Background(),
				envelope.NewRequest("greeter", "say_hello", Schema, json.RawMessage(tt.payload)))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}

			var resp Response
			if err := json.Unmarshal(reply, &resp); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if resp.Message != tt.want {
				t.Errorf("Message = %q, want %q", resp.Message, tt.want)
			}
			if resp.Timestamp != "2024-05-01T12:00:00Z" {
				t.Errorf("Timestamp = %q", resp.Timestamp)
			}
		})
	}
}

func TestCell_RegisterTwice(t *testing.T) {
	b := body.NewLocalBus()
	c := New()
	c.Register(b)
	if err := c.Register(b); err != nil {
		t.Errorf("second Register error: %v", err)
	}
	if len(b.Subjects()) != 1 {
		t.Errorf("Subjects() = %v", b.Subjects())
	}
}
