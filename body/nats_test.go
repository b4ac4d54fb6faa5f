package body

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

// connectNATS returns a bus on a live server or skips the test.
func connectNATS(t *testing.T) *TransportBus {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
	cfg.ConnectTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second

	b, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", cfg.URL, err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond

	_, err := Connect(context.Background(), cfg)
	if !cerrors.Is(err, cerrors.ErrCodeConnection) {
		t.Errorf("error = %v, want Connection", err)
	}
}

func TestConnect_ContextCanceled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://10.255.255.1:4222"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, cfg)
	if !cerrors.Is(err, cerrors.ErrCodeConnection) {
		t.Errorf("error = %v, want Connection", err)
	}
}

func TestNATSTransport_RoundTrip(t *testing.T) {
	server := connectNATS(t)
	client := connectNATS(t)

	if err := server.Subscribe("cbs.natstest.say_hello", greetHandler()); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	// Let the subscription reach the server.
	time.Sleep(50 * time.Millisecond)

	reply, err := client.Request(context.Background(),
		envelope.NewRequest("natstest", "say_hello", testSchema, json.RawMessage(`{"name":"Ada"}`)))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if string(reply) != `{"message":"Hello Ada!"}` {
		t.Errorf("reply = %s", reply)
	}
}

func TestNATSTransport_NoResponders(t *testing.T) {
	client := connectNATS(t)

	_, err := client.Request(context.Background(), envelope.NewRequest("natstest", "nobody_home", testSchema, nil))
	if !cerrors.Is(err, cerrors.ErrCodeNotFound) {
		t.Errorf("error = %v, want NotFound", err)
	}
}

func TestNATSTransport_BadRequest(t *testing.T) {
	server := connectNATS(t)

	server.Subscribe("cbs.natstest.reject", HandlerFunc(func(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
		return nil, cerrors.BadRequest("x")
	}))
	time.Sleep(50 * time.Millisecond)

	_, err := server.Request(context.Background(), envelope.NewRequest("natstest", "reject", testSchema, nil))
	if !cerrors.Is(err, cerrors.ErrCodeBadRequest) || cerrors.MessageOf(err) != "x" {
		t.Errorf("error = %v, want BadRequest x", err)
	}
}
