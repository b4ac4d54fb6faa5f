package bus

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// natsURL returns the server to test against, or skips when none answers.
func natsURL(t testing.TB) string {
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = DefaultNATSURL
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	b.Close()
	return url
}

// connect opens a bus that is closed when the test ends.
func connect(t *testing.T) *NATSBus {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	cfg.Name = t.Name()

	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// receive waits for one message on sub.
func receive(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("subscription %s closed", sub.Subject())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message on %s", sub.Subject())
	}
	return nil
}

// --- Unit Tests ---

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"url", cfg.URL, DefaultNATSURL},
		{"connect timeout", cfg.ConnectTimeout, 10 * time.Second},
		{"max reconnects", cfg.MaxReconnects, 10},
		{"buffer size", cfg.BufferSize, 256},
		{"first reconnect delay", cfg.ReconnectDelay(1), 500 * time.Millisecond},
		{"third reconnect delay", cfg.ReconnectDelay(3), 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestBuildNATSOptions(t *testing.T) {
	cfg := DefaultNATSConfig()
	base := len(buildNATSOptions(cfg))

	cfg.Name = "cbs-body"
	cfg.Token = "secret"
	cfg.OnDisconnect = func(error) {}
	cfg.OnReconnect = func(string) {}
	cfg.OnClosed = func() {}
	cfg.OnSlowConsumer = func(string) {}
	if got := len(buildNATSOptions(cfg)); got != base+6 {
		t.Errorf("options = %d, want %d", got, base+6)
	}
}

func TestBuildNATSOptions_ReconnectDelay(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.ReconnectDelay = LinearBackoff(200 * time.Millisecond)

	opts := nats.GetDefaultOptions()
	for _, o := range buildNATSOptions(cfg) {
		if err := o(&opts); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}
	if opts.CustomReconnectDelayCB == nil {
		t.Fatal("CustomReconnectDelayCB not set")
	}
	if got := opts.CustomReconnectDelayCB(3); got != 600*time.Millisecond {
		t.Errorf("delay(3) = %v, want 600ms", got)
	}

	cfg.ReconnectDelay = nil
	if got, want := len(buildNATSOptions(cfg)), len(buildNATSOptions(DefaultNATSConfig()))-1; got != want {
		t.Errorf("options without delay = %d, want %d", got, want)
	}
}

func TestMessageConversion(t *testing.T) {
	tests := []struct {
		name  string
		msg   *Message
		trace string
	}{
		{
			name:  "with trace context",
			msg:   &Message{Subject: "cbs.greeter.say_hello", Reply: "_INBOX.7", Data: []byte(`{"name":"Ada"}`), Header: Header{"traceparent": "00-abc-def-01"}},
			trace: "00-abc-def-01",
		},
		{
			name: "without headers",
			msg:  &Message{Subject: "cbs.printer.write", Data: []byte(`{}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			back := fromNATS(toNATS(tt.msg))
			if back.Subject != tt.msg.Subject || back.Reply != tt.msg.Reply || string(back.Data) != string(tt.msg.Data) {
				t.Errorf("fromNATS(toNATS()) = %+v, want %+v", back, tt.msg)
			}
			if got := back.Header.Get("traceparent"); got != tt.trace {
				t.Errorf("traceparent = %q, want %q", got, tt.trace)
			}
			if tt.msg.Header == nil && back.Header != nil {
				t.Errorf("Header = %v, want nil", back.Header)
			}
		})
	}
}

// --- Integration Tests ---

func TestNATSBus_Publish(t *testing.T) {
	b := connect(t)

	sub, err := b.Subscribe("cbs.nats.ping")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish("cbs.nats.ping", []byte("Ada over NATS")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := receive(t, sub); string(got.Data) != "Ada over NATS" {
		t.Errorf("Data = %q, want %q", got.Data, "Ada over NATS")
	}
}

func TestNATSBus_FullBufferKeepsMessages(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	cfg.BufferSize = 1
	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer b.Close()

	sub, _ := b.Subscribe("cbs.printer.write")
	const sent = 10
	for i := 0; i < sent; i++ {
		b.Publish("cbs.printer.write", []byte(strconv.Itoa(i)))
	}
	b.Conn().Flush()

	for i := 0; i < sent; i++ {
		if got := receive(t, sub); string(got.Data) != strconv.Itoa(i) {
			t.Errorf("message %d = %q, want %d", i, got.Data, i)
		}
	}

	// A receive blocked on the full channel must not hold up Unsubscribe.
	b.Publish("cbs.printer.write", []byte("a"))
	b.Publish("cbs.printer.write", []byte("b"))
	b.Conn().Flush()
	time.Sleep(20 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- sub.Unsubscribe() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe blocked by a pending delivery")
	}
}

func TestNATSBus_QueueGroupDeliversOnce(t *testing.T) {
	b := connect(t)

	const sent = 20
	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := b.QueueSubscribe("cbs.printer.write", "printer")
		if err != nil {
			t.Fatalf("QueueSubscribe: %v", err)
		}
		defer sub.Unsubscribe()
		subs = append(subs, sub)
	}

	for i := 0; i < sent; i++ {
		b.Publish("cbs.printer.write", []byte("line"))
	}

	got := 0
	deadline := time.After(2 * time.Second)
	for got < sent {
		select {
		case <-subs[0].Messages():
		case <-subs[1].Messages():
		case <-subs[2].Messages():
		case <-deadline:
			t.Fatalf("received %d, want %d", got, sent)
		}
		got++
	}

	// Nothing beyond the published count arrives.
	select {
	case <-subs[0].Messages():
		t.Error("message delivered twice within the group")
	case <-subs[1].Messages():
		t.Error("message delivered twice within the group")
	case <-subs[2].Messages():
		t.Error("message delivered twice within the group")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNATSBus_SeparateGroupsEachReceive(t *testing.T) {
	b := connect(t)

	greeters, _ := b.QueueSubscribe("cbs.greeter.say_hello", "greeter")
	auditors, _ := b.QueueSubscribe("cbs.greeter.say_hello", "audit")
	defer greeters.Unsubscribe()
	defer auditors.Unsubscribe()

	b.Publish("cbs.greeter.say_hello", []byte("Ada"))

	for _, sub := range []Subscription{greeters, auditors} {
		if got := receive(t, sub); string(got.Data) != "Ada" {
			t.Errorf("Data = %q, want %q", got.Data, "Ada")
		}
	}
}

func TestNATSBus_Request(t *testing.T) {
	b := connect(t)

	sub, _ := b.QueueSubscribe("cbs.echo.run", "echo")
	defer sub.Unsubscribe()
	go func() {
		for msg := range sub.Messages() {
			reply := NewMessage(msg.Reply, append([]byte("echo:"), msg.Data...))
			reply.Header.Set("traceparent", msg.Header.Get("traceparent"))
			b.PublishMsg(reply)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := NewMessage("cbs.echo.run", []byte("Ada"))
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

	reply, err := b.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply.Data) != "echo:Ada" {
		t.Errorf("Data = %q, want %q", reply.Data, "echo:Ada")
	}
	if got := reply.Header.Get("traceparent"); got != req.Header.Get("traceparent") {
		t.Errorf("traceparent = %q, want %q", got, req.Header.Get("traceparent"))
	}
}

func TestNATSBus_RequestErrors(t *testing.T) {
	b := connect(t)

	silent, _ := b.Subscribe("cbs.silent.wait")
	defer silent.Unsubscribe()

	tests := []struct {
		name    string
		subject string
		wait    time.Duration
		want    error
	}{
		{"nobody subscribed", "cbs.nobody.home", time.Second, ErrNoResponders},
		{"subscriber never replies", "cbs.silent.wait", 100 * time.Millisecond, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.wait)
			defer cancel()

			_, err := b.Request(ctx, NewMessage(tt.subject, []byte("{}")))
			if err != tt.want {
				t.Errorf("Request error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNATSBus_PublishMsgHeaders(t *testing.T) {
	b := connect(t)

	sub, _ := b.Subscribe("cbs.trace.headers")
	defer sub.Unsubscribe()

	msg := NewMessage("cbs.trace.headers", []byte("{}"))
	msg.Header.Set("traceparent", "tp")
	msg.Header.Set("tracestate", "cbs=1")
	if err := b.PublishMsg(msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	got := receive(t, sub)
	for _, key := range []string{"traceparent", "tracestate"} {
		if got.Header.Get(key) != msg.Header.Get(key) {
			t.Errorf("%s = %q, want %q", key, got.Header.Get(key), msg.Header.Get(key))
		}
	}
}

func TestNATSBus_Close(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}

	sub, _ := b.QueueSubscribe("cbs.closing.wait", "closing")
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Error("Messages() delivered after Close")
		}
	case <-time.After(time.Second):
		t.Error("Messages() not closed by Close")
	}
	if b.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := b.Publish("cbs.greeter.say_hello", []byte("Ada")); err != ErrClosed {
		t.Errorf("Publish after Close = %v, want %v", err, ErrClosed)
	}
}

// --- Failure Tests ---

func TestNATSBus_UnreachableServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://cbs-no-such-host.invalid:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	if _, err := NewNATSBus(cfg); err == nil {
		t.Error("NewNATSBus() error = nil, want dial failure")
	}
}

// --- Performance Tests ---

func BenchmarkNATSBus_Request(b *testing.B) {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(b)
	nb, err := NewNATSBus(cfg)
	if err != nil {
		b.Fatalf("NewNATSBus: %v", err)
	}
	defer nb.Close()

	sub, _ := nb.QueueSubscribe("cbs.bench.echo", "bench")
	go func() {
		for msg := range sub.Messages() {
			nb.Publish(msg.Reply, msg.Data)
		}
	}()

	payload := []byte(`{"name":"Ada"}`)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := nb.Request(ctx, NewMessage("cbs.bench.echo", payload)); err != nil {
			b.Fatalf("Request: %v", err)
		}
	}
}
