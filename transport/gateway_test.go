package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

// --- Unit Tests ---

func TestGateway_Serve(t *testing.T) {
	lines := []string{
		string(requestFrame(t, "ok", "greeter", "say_hello", `{"name":"Ada"}`)),
		string(requestFrame(t, "failing", "greeter", "fail", `{}`)),
		string(requestFrame(t, "missing", "nobody", "home", `{}`)),
		`{"id":"broken","service":"greeter"}`,
	}
	var out bytes.Buffer
	tr := NewStdioTransport(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := NewGateway(greetBus(t)).Serve(ctx, tr); err != nil {
		t.Fatalf("Serve error: %v", err)
	}

	replies := readReplies(t, out.Bytes())
	if len(replies) != 4 {
		t.Fatalf("got %d replies, want 4: %s", len(replies), out.String())
	}

	tests := []struct {
		id       string
		wantCode cerrors.ErrorCode
		wantMsg  string
	}{
		{"failing", cerrors.ErrCodeBadRequest, "no thanks"},
		{"missing", cerrors.ErrCodeNotFound, "no handler for subject: cbs.nobody.home"},
		{"broken", cerrors.ErrCodeBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r := replies[tt.id]
			if r == nil || r.Error == nil {
				t.Fatalf("reply = %+v, want error", r)
			}
			if r.Error.Code != string(tt.wantCode) {
				t.Errorf("code = %q, want %q", r.Error.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && r.Error.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", r.Error.Message, tt.wantMsg)
			}
		})
	}

	ok := replies["ok"]
	if ok == nil || ok.IsError() {
		t.Fatalf("ok reply = %+v", ok)
	}
	if string(ok.Payload) != `{"message":"Hello Ada!"}` {
		t.Errorf("payload = %s", ok.Payload)
	}
	if ok.Service != "greeter" || ok.Verb != "say_hello" || ok.Schema != testSchema {
		t.Errorf("reply routing = %s/%s/%s", ok.Service, ok.Verb, ok.Schema)
	}
}

func TestGateway_MaxInFlight(t *testing.T) {
	var lines []string
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		lines = append(lines, string(requestFrame(t, id, "greeter", "say_hello", `{"name":"x"}`)))
	}
	var out bytes.Buffer
	tr := NewStdioTransport(strings.NewReader(strings.Join(lines, "\n")), &out, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := NewGateway(greetBus(t), WithMaxInFlight(1)).Serve(ctx, tr); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	if n := len(readReplies(t, out.Bytes())); n != 5 {
		t.Errorf("got %d replies, want 5", n)
	}
}

func TestGateway_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, io.Discard, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewGateway(greetBus(t)).Serve(ctx, tr)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := tr.Send(envelope.NewResponse("1", "a", "b", "", nil)); err != ErrClosed {
		t.Errorf("Send after Serve = %v, want ErrClosed", err)
	}
}

func TestNewGateway_Defaults(t *testing.T) {
	g := NewGateway(greetBus(t), WithMaxInFlight(0))
	if g.maxInFlight != DefaultMaxInFlight {
		t.Errorf("maxInFlight = %d, want %d", g.maxInFlight, DefaultMaxInFlight)
	}
	if g.logger == nil {
		t.Error("logger should default to a no-op logger")
	}

	limited := NewGateway(greetBus(t), WithRateLimit(5, 0))
	if limited.burst != 1 {
		t.Errorf("burst = %d, want 1 when unset", limited.burst)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	var lines []string
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		lines = append(lines, string(requestFrame(t, id, "greeter", "say_hello", `{"name":"x"}`)))
	}
	var out bytes.Buffer
	tr := NewStdioTransport(strings.NewReader(strings.Join(lines, "\n")), &out, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 20/s with burst 1: five requests need at least four 50ms intervals.
	start := time.Now()
	if err := NewGateway(greetBus(t), WithRateLimit(20, 1)).Serve(ctx, tr); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want throttling", elapsed)
	}
	if n := len(readReplies(t, out.Bytes())); n != 5 {
		t.Errorf("got %d replies, want 5", n)
	}
}
