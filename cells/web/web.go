// Package web provides the cell that serves the browser UI over HTTP and
// lets browsers reach the bus through a WebSocket gateway.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/metrics"
	"github.com/vinayprograms/cellbus/transport"
)

const (
	// ID is the cell's identifier in application manifests.
	ID = "web_server"

	// ServeSubject reports where the server listens.
	ServeSubject = "cbs.web_server.serve"

	// HealthSubject reports liveness over the bus.
	HealthSubject = "cbs.web_server.health"

	// ServerName identifies the server in health responses.
	ServerName = "CBS Web Server"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("web server already started")

// Config configures the HTTP server.
type Config struct {
	Addr      string
	StaticDir string
	CORS      bool

	// GatewayRate limits requests per second on each /ws session.
	// Zero means unlimited.
	GatewayRate  float64
	GatewayBurst int
}

// DefaultConfig returns the defaults: port 8080, ./web, permissive CORS.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		StaticDir: "./web",
		CORS:      true,
	}
}

// HealthResponse is the body of /health and the health verb.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Server    string `json:"server"`
}

// ServeResponse is the reply of the serve verb.
type ServeResponse struct {
	Address   string `json:"address"`
	Serving   bool   `json:"serving"`
	StaticDir string `json:"static_dir"`
}

// Cell is the web server cell.
type Cell struct {
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	upgrader *websocket.Upgrader
	now      func() time.Time

	// ctx bounds gateway sessions; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup

	mu       sync.Mutex
	bus      body.Bus
	server   *http.Server
	listener net.Listener
}

var _ body.Cell = (*Cell)(nil)

// Option configures a Cell.
type Option func(*Cell)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cell) {
		c.logger = l
	}
}

// WithMetrics sets the metrics served on /metrics. Default: a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cell) {
		c.metrics = m
	}
}

// New creates a web server cell. The server does not listen until Start.
func New(cfg Config, opts ...Option) *Cell {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cell{
		cfg:      cfg,
		upgrader: transport.NewWebSocketUpgrader(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	return c
}

// ID returns the cell identifier.
func (c *Cell) ID() string { return ID }

// Subjects returns the subjects the cell serves.
func (c *Cell) Subjects() []string { return []string{ServeSubject, HealthSubject} }

// Register subscribes the bus handlers and attaches b to the WebSocket
// gateway.
func (c *Cell) Register(b body.Bus) error {
	c.mu.Lock()
	c.bus = b
	c.mu.Unlock()

	if err := b.Subscribe(ServeSubject, body.HandlerFunc(c.handleServe)); err != nil {
		return err
	}
	return b.Subscribe(HealthSubject, body.HandlerFunc(c.handleHealth))
}

// Start listens on the configured address and serves in the background.
func (c *Cell) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.server = srv
	c.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("web server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	c.logger.Info("web server listening", map[string]interface{}{
		"addr":       ln.Addr().String(),
		"static_dir": c.cfg.StaticDir,
		"cors":       c.cfg.CORS,
	})
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (c *Cell) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.cfg.Addr
}

// Serving reports whether Start has succeeded.
func (c *Cell) Serving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server != nil
}

// Shutdown ends gateway sessions and stops the HTTP server. The cell cannot
// be restarted afterwards.
func (c *Cell) Shutdown(ctx context.Context) error {
	c.cancel()

	c.mu.Lock()
	srv := c.server
	c.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		c.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (c *Cell) attachedBus() body.Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus
}

func (c *Cell) health() HealthResponse {
	return HealthResponse{
		Status:    "healthy",
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Server:    ServerName,
	}
}

func (c *Cell) handleHealth(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	return envelope.EncodePayload(c.health())
}

func (c *Cell) handleServe(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	return envelope.EncodePayload(ServeResponse{
		Address:   c.Addr(),
		Serving:   c.Serving(),
		StaticDir: c.cfg.StaticDir,
	})
}
