package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/cellbus/envelope"
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	Config

	// WriteTimeout bounds each frame write. Zero means no deadline.
	WriteTimeout time.Duration

	// ReadTimeout closes a silent connection. Each pong extends it; zero
	// disables it.
	ReadTimeout time.Duration

	// PingInterval between keepalive pings. Zero disables pings.
	PingInterval time.Duration
}

// DefaultWebSocketConfig pings every 30s and never times out reads.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:       DefaultConfig(),
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// WebSocketTransport carries one envelope per text message.
type WebSocketTransport struct {
	*queue

	conn *websocket.Conn
	cfg  WebSocketConfig
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport takes over an upgraded connection. Run closes it.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	conn.SetReadLimit(int64(cfg.MaxFrameSize))
	return &WebSocketTransport{
		queue: newQueue(cfg.Config),
		conn:  conn,
		cfg:   cfg,
	}
}

// NewWebSocketUpgrader accepts any origin. CORS is enforced by the HTTP
// layer in front of it.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// Run blocks until ctx is done or Close is called. Recv closes when the
// peer disconnects. Queued replies are written before a close frame is sent.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		t.read()
	}()

	var tick <-chan time.Time
	if t.cfg.PingInterval > 0 {
		ticker := time.NewTicker(t.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		t.drain(t.writeFrame, tick, t.ping)
	}()

	select {
	case <-ctx.Done():
		t.Close()
	case <-t.done:
	}
	<-flushed

	bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(time.Second))
	t.conn.Close()
	<-readDone
	return nil
}

func (t *WebSocketTransport) read() {
	defer close(t.in)

	idle := t.cfg.ReadTimeout
	if idle > 0 {
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(idle))
		})
	}
	for {
		if idle > 0 {
			t.conn.SetReadDeadline(time.Now().Add(idle))
		}
		_, frame, err := t.conn.ReadMessage()
		if err != nil || !t.accept(frame) {
			return
		}
	}
}

func (t *WebSocketTransport) ping() {
	t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

func (t *WebSocketTransport) writeFrame(env *envelope.Envelope) {
	data, err := MarshalOutbound(env)
	if err != nil {
		return
	}
	if t.cfg.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	t.conn.WriteMessage(websocket.TextMessage, data)
}
