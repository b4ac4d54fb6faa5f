package body

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/cellbus/bus"
	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
	"github.com/vinayprograms/cellbus/telemetry"
)

// Config holds transport bus configuration.
type Config struct {
	// URL is the broker URL. Default: nats://localhost:4222.
	URL string

	// Name identifies this client to the broker.
	Name string

	// RequestTimeout bounds every Request. Default: 5s.
	RequestTimeout time.Duration

	// ConnectTimeout bounds the initial connect. Default: 10s.
	ConnectTimeout time.Duration

	// MaxReconnectAttempts caps reconnects after a lost connection. 0 never
	// reconnects and -1 retries forever, so withDefaults leaves it alone;
	// DefaultConfig sets 10.
	MaxReconnectAttempts int

	// ReconnectDelay is the base of the linear reconnect backoff. Default: 500ms.
	ReconnectDelay time.Duration

	// BufferSize for subscription channels. Default: 256.
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  bus.DefaultNATSURL,
		RequestTimeout:       5 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       500 * time.Millisecond,
		BufferSize:           bus.DefaultConfig().BufferSize,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}

// TransportBus implements Bus over a raw bus.MessageBus. Every subject is
// served by a queue subscription in the subject's service group, with one
// dispatch goroutine per subscription.
type TransportBus struct {
	raw      bus.MessageBus
	cfg      Config
	opts     options
	handlers *HandlerTable

	ctx    context.Context // handed to handlers, canceled on Close
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]bus.Subscription
	closed bool
	wg     sync.WaitGroup
}

var _ Bus = (*TransportBus)(nil)

// Connect dials the NATS server in cfg and returns a bus bound to it.
// A dial failure, or expiry of ctx or cfg.ConnectTimeout, is a Connection error.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*TransportBus, error) {
	cfg = cfg.withDefaults()
	o := newOptions(opts)
	log := o.logger

	natsCfg := bus.NATSConfig{
		Config:         bus.Config{BufferSize: cfg.BufferSize},
		URL:            cfg.URL,
		Name:           cfg.Name,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxReconnects:  cfg.MaxReconnectAttempts,
		ReconnectDelay: bus.LinearBackoff(cfg.ReconnectDelay),
		OnDisconnect: func(err error) {
			log.ConnectionEvent("disconnected", "", err)
		},
		OnReconnect: func(url string) {
			log.ConnectionEvent("reconnected", url, nil)
		},
		OnClosed: func() {
			log.ConnectionEvent("closed", "", nil)
		},
		OnSlowConsumer: func(subject string) {
			log.MessageDropped(subject, "slow consumer: client pending limit exceeded")
			o.metrics.RecordDropped(subject)
		},
	}

	type result struct {
		nb  *bus.NATSBus
		err error
	}
	done := make(chan result, 1)
	go func() {
		nb, err := bus.NewNATSBus(natsCfg)
		done <- result{nb, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, cerrors.Connection("connect to "+cfg.URL, cerrors.WithCause(r.err))
		}
		log.ConnectionEvent("connected", cfg.URL, nil)
		return NewTransportBus(r.nb, cfg, opts...), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nb != nil {
				r.nb.Close()
			}
		}()
		return nil, cerrors.Connection("connect to "+cfg.URL, cerrors.WithCause(ctx.Err()))
	}
}

// NewTransportBus binds an already connected raw bus. Close closes raw.
func NewTransportBus(raw bus.MessageBus, cfg Config, opts ...Option) *TransportBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &TransportBus{
		raw:      raw,
		cfg:      cfg.withDefaults(),
		opts:     newOptions(opts),
		handlers: NewHandlerTable(),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]bus.Subscription),
	}
}

// Request sends env on its subject and waits up to RequestTimeout, or the
// ctx deadline if that comes first, for the reply.
func (b *TransportBus) Request(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	subject := env.Subject()
	start := time.Now()

	ctx, span := b.opts.tracer.StartRequestSpan(ctx, telemetry.MessageSpanOptions{
		Subject: subject,
		ID:      env.ID,
		Schema:  env.Schema,
		Payload: env.Payload,
	})
	payload, err := b.request(ctx, subject, env)
	b.opts.tracer.EndSpan(span, err)

	elapsed := time.Since(start)
	b.opts.metrics.RecordRequest(subject, cerrors.Code(err).String(), elapsed)
	if err != nil {
		b.opts.logger.RequestFailed(subject, env.ID, elapsed, err)
	} else {
		b.opts.logger.RequestSent(subject, env.ID, elapsed)
	}
	return payload, err
}

func (b *TransportBus) request(ctx context.Context, subject string, env *envelope.Envelope) (json.RawMessage, error) {
	data, err := envelope.Marshal(env)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	msg := bus.NewMessage(subject, data)
	telemetry.InjectContext(ctx, msg.Header)

	reply, err := b.raw.Request(ctx, msg)
	if err != nil {
		return nil, b.translate(subject, err)
	}

	resp, err := envelope.Unmarshal(reply.Data)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error.Err()
	}
	if len(resp.Payload) == 0 {
		return nil, cerrors.Internal("response without payload", cerrors.WithSubject(subject))
	}
	return resp.Payload, nil
}

// translate maps raw transport failures onto the error taxonomy.
func (b *TransportBus) translate(subject string, err error) error {
	switch {
	case errors.Is(err, bus.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return cerrors.Timeout("no reply on "+subject, cerrors.WithSubject(subject), cerrors.WithCause(err))
	case errors.Is(err, bus.ErrNoResponders):
		return cerrors.NotFound("no handler for subject: "+subject, cerrors.WithSubject(subject))
	case errors.Is(err, bus.ErrInvalidSubject):
		return cerrors.BadRequest("invalid subject: "+subject, cerrors.WithSubject(subject))
	default:
		return cerrors.Connection("request "+subject, cerrors.WithSubject(subject), cerrors.WithCause(err))
	}
}

// Subscribe stores h for subject. The first Subscribe on a subject opens a
// queue subscription and starts its dispatch loop; later ones only swap the
// handler.
func (b *TransportBus) Subscribe(subject string, h Handler) error {
	if err := bus.ValidateSubject(subject); err != nil {
		return cerrors.BadRequest("invalid subject: "+subject, cerrors.WithSubject(subject))
	}
	if h == nil {
		return cerrors.BadRequest("nil handler", cerrors.WithSubject(subject))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return cerrors.Connection("bus closed", cerrors.WithSubject(subject), cerrors.WithCause(bus.ErrClosed))
	}

	queue := envelope.QueueGroup(subject)
	replaced := b.handlers.Set(subject, h)
	if _, ok := b.subs[subject]; ok {
		b.opts.logger.Subscribed(subject, queue, replaced)
		return nil
	}

	sub, err := b.raw.QueueSubscribe(subject, queue)
	if err != nil {
		b.handlers.Delete(subject)
		return cerrors.Connection("subscribe "+subject, cerrors.WithSubject(subject), cerrors.WithCause(err))
	}
	b.subs[subject] = sub
	b.opts.metrics.Subscriptions.Inc()

	b.wg.Add(1)
	go b.dispatchLoop(sub)

	b.opts.logger.Subscribed(subject, queue, replaced)
	return nil
}

// Unsubscribe stops serving subject. Unknown subjects are ignored.
func (b *TransportBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	sub, ok := b.subs[subject]
	delete(b.subs, subject)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	b.handlers.Delete(subject)
	b.opts.metrics.Subscriptions.Dec()
	if err := sub.Unsubscribe(); err != nil {
		return cerrors.Connection("unsubscribe "+subject, cerrors.WithSubject(subject), cerrors.WithCause(err))
	}
	return nil
}

// dispatchLoop serves one subscription until its channel closes.
func (b *TransportBus) dispatchLoop(sub bus.Subscription) {
	defer b.wg.Done()
	for msg := range sub.Messages() {
		b.dispatch(msg)
	}
}

// dispatch handles one inbound request. It never panics and never stops the
// loop: undecodable requests are dropped, handler failures become error
// envelopes.
func (b *TransportBus) dispatch(msg *bus.Message) {
	req, err := envelope.Unmarshal(msg.Data)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		b.opts.logger.MessageDropped(msg.Subject, err.Error())
		b.opts.metrics.RecordDropped(msg.Subject)
		return
	}

	ctx := telemetry.ExtractContext(b.ctx, msg.Header)
	ctx, span := b.opts.tracer.StartDispatchSpan(ctx, telemetry.MessageSpanOptions{
		Subject: msg.Subject,
		ID:      req.ID,
		Schema:  req.Schema,
		Payload: req.Payload,
	})
	start := time.Now()

	resp, herr := b.invoke(ctx, msg.Subject, req)

	b.opts.tracer.EndSpan(span, herr)
	elapsed := time.Since(start)
	code := ""
	if herr != nil {
		code = string(cerrors.WireCode(herr))
	}
	b.opts.metrics.RecordDispatch(msg.Subject, code, elapsed)
	b.opts.logger.Dispatched(msg.Subject, req.ID, elapsed, herr)

	if msg.Reply == "" {
		return
	}

	data, err := envelope.Marshal(resp)
	if err != nil {
		data, err = envelope.Marshal(envelope.ErrorTo(req, cerrors.Internal("encode response: "+cerrors.MessageOf(err))))
		if err != nil {
			b.opts.logger.Error("encode_error_response", map[string]interface{}{"subject": msg.Subject, "error": err.Error()})
			return
		}
	}

	if err := b.raw.PublishMsg(&bus.Message{Subject: msg.Reply, Data: data}); err != nil {
		b.opts.logger.Warn("reply_failed", map[string]interface{}{
			"subject": msg.Subject,
			"id":      req.ID,
			"error":   err.Error(),
		})
	}
}

// invoke runs the handler for subject and builds the reply envelope.
// The returned error is the handler's failure, for observability only.
func (b *TransportBus) invoke(ctx context.Context, subject string, req *envelope.Envelope) (*envelope.Envelope, error) {
	h, ok := b.handlers.Get(subject)
	if !ok {
		err := cerrors.NotFound("no handler for subject: "+subject, cerrors.WithSubject(subject))
		return envelope.ErrorTo(req, err), err
	}

	payload, panicked, err := safeHandle(ctx, h, req)
	if panicked {
		b.opts.metrics.RecordPanic(subject)
	}
	if err != nil {
		return envelope.ErrorTo(req, err), err
	}
	return envelope.ResponseTo(req, payload), nil
}

// Subjects returns the subjects this bus serves, sorted.
func (b *TransportBus) Subjects() []string {
	return b.handlers.Subjects()
}

// Raw returns the underlying message bus, for components such as the cell
// directory that need the broker connection itself.
func (b *TransportBus) Raw() bus.MessageBus {
	return b.raw
}

// IsConnected reports whether the underlying transport is up.
func (b *TransportBus) IsConnected() bool {
	return b.raw.IsConnected()
}

// Close unsubscribes every subject, waits for in-flight dispatches and closes
// the raw bus.
func (b *TransportBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]bus.Subscription)
	b.mu.Unlock()

	var errs []error
	for subject, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", subject, err))
		}
		b.opts.metrics.Subscriptions.Dec()
	}

	b.cancel()
	b.wg.Wait()
	b.handlers.Clear()

	if err := b.raw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	return errors.Join(errs...)
}
