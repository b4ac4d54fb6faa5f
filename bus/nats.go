package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSURL is used when no URL is configured.
const DefaultNATSURL = "nats://localhost:4222"

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited, 0 = never reconnect.
	MaxReconnects int

	// ReconnectDelay returns the wait before each reconnect attempt.
	// Default: LinearBackoff(500ms).
	ReconnectDelay ReconnectPolicy

	// Connection lifecycle callbacks. All optional.
	OnDisconnect func(err error)
	OnReconnect  func(url string)
	OnClosed     func()

	// OnSlowConsumer reports a subscription whose client-side pending
	// limit was exceeded. The client drops messages while it lasts.
	OnSlowConsumer func(subject string)
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            DefaultNATSURL,
		ConnectTimeout: 10 * time.Second,
		MaxReconnects:  10,
		ReconnectDelay: LinearBackoff(500 * time.Millisecond),
	}
}

// NewNATSBus dials the server and returns a connected bus.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = DefaultNATSURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	return NewNATSBusFromConn(conn, cfg), nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &NATSBus{
		conn:   conn,
		config: cfg,
		subs:   make(map[*natsSubscription]struct{}),
	}
}

// buildNATSOptions turns cfg into dial options. Callbacks are adapted to
// plain functions so callers never import nats.go for them.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{nats.MaxReconnects(cfg.MaxReconnects)}
	add := func(when bool, opt nats.Option) {
		if when {
			opts = append(opts, opt)
		}
	}

	add(cfg.ConnectTimeout > 0, nats.Timeout(cfg.ConnectTimeout))
	add(cfg.ReconnectDelay != nil, nats.CustomReconnectDelay(nats.ReconnectDelayHandler(cfg.ReconnectDelay)))
	add(cfg.Name != "", nats.Name(cfg.Name))
	add(cfg.Token != "", nats.Token(cfg.Token))
	add(cfg.User != "", nats.UserInfo(cfg.User, cfg.Password))

	if fn := cfg.OnDisconnect; fn != nil {
		opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { fn(err) }))
	}
	if fn := cfg.OnReconnect; fn != nil {
		opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) { fn(nc.ConnectedUrl()) }))
	}
	if fn := cfg.OnClosed; fn != nil {
		opts = append(opts, nats.ClosedHandler(func(*nats.Conn) { fn() }))
	}
	if fn := cfg.OnSlowConsumer; fn != nil {
		opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil && errors.Is(err, nats.ErrSlowConsumer) {
				fn(sub.Subject)
			}
		}))
	}
	return opts
}

// ready checks subject and the connection before any operation.
func (b *NATSBus) ready(subject string) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// requestError maps nats.go request failures onto the bus errors.
// Cancellation is returned as is.
func requestError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return ErrNoResponders
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, nats.ErrConnectionClosed):
		return ErrClosed
	}
	return fmt.Errorf("nats request: %w", err)
}

// Publish sends data to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.PublishMsg(&Message{Subject: subject, Data: data})
}

// PublishMsg sends a message with its header and reply subject.
func (b *NATSBus) PublishMsg(msg *Message) error {
	if err := b.ready(msg.Subject); err != nil {
		return err
	}
	if err := b.conn.PublishMsg(toNATS(msg)); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("nats publish: %w", err)
	}

	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	return b.QueueSubscribe(subject, "")
}

// QueueSubscribe creates a queue subscription. An empty queue name creates a
// plain subscription.
func (b *NATSBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := b.ready(subject); err != nil {
		return nil, err
	}

	s := &natsSubscription{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = b.conn.Subscribe(subject, s.receive)
	} else {
		sub, err = b.conn.QueueSubscribe(subject, queue, s.receive)
	}
	if err != nil {
		close(s.ch)
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	s.sub = sub

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s, nil
}

// Request sends a request and waits for the first reply.
func (b *NATSBus) Request(ctx context.Context, msg *Message) (*Message, error) {
	if err := b.ready(msg.Subject); err != nil {
		return nil, err
	}
	reply, err := b.conn.RequestMsgWithContext(ctx, toNATS(msg))
	if err != nil {
		return nil, requestError(err)
	}
	return fromNATS(reply), nil
}

// IsConnected reports whether the connection is currently up.
func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close shuts down the NATS connection and closes every subscription channel.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := make([]*natsSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}

	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription bridges a NATS async subscription to a channel.
type natsSubscription struct {
	subject string
	sub     *nats.Subscription
	bus     *NATSBus

	ch   chan *Message
	done chan struct{} // closed first on unsubscribe, releases receive
	once sync.Once

	mu     sync.RWMutex // held for reading while sending on ch
	closed bool
}

// receive runs on the NATS delivery goroutine. A full channel makes it
// wait, so pending messages queue inside the client instead of being
// dropped here.
func (s *natsSubscription) receive(m *nats.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- fromNATS(m):
	case <-s.done:
	}
}

// Subject returns the subscribed subject.
func (s *natsSubscription) Subject() string {
	return s.subject
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	if s.bus.conn.IsClosed() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func toNATS(msg *Message) *nats.Msg {
	m := &nats.Msg{
		Subject: msg.Subject,
		Reply:   msg.Reply,
		Data:    msg.Data,
	}
	if len(msg.Header) > 0 {
		m.Header = nats.Header{}
		for k, v := range msg.Header {
			m.Header.Set(k, v)
		}
	}
	return m
}

func fromNATS(m *nats.Msg) *Message {
	msg := &Message{
		Subject: m.Subject,
		Reply:   m.Reply,
		Data:    m.Data,
	}
	if len(m.Header) > 0 {
		msg.Header = make(Header, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}
