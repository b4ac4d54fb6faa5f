package body

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/cellbus/bus"
	"github.com/vinayprograms/cellbus/envelope"
	cerrors "github.com/vinayprograms/cellbus/errors"
)

// LocalBus is an in-process Bus. Request calls the handler directly, with no
// serialization and no timeout. Errors come back with the same kinds a
// TransportBus would report.
type LocalBus struct {
	handlers *HandlerTable
	opts     options
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates an empty in-process bus.
func NewLocalBus(opts ...Option) *LocalBus {
	return &LocalBus{
		handlers: NewHandlerTable(),
		opts:     newOptions(opts),
	}
}

// Subscribe stores or replaces the handler for subject.
func (b *LocalBus) Subscribe(subject string, h Handler) error {
	if err := bus.ValidateSubject(subject); err != nil {
		return cerrors.BadRequest("invalid subject: "+subject, cerrors.WithSubject(subject))
	}
	if h == nil {
		return cerrors.BadRequest("nil handler", cerrors.WithSubject(subject))
	}

	replaced := b.handlers.Set(subject, h)
	b.opts.logger.Subscribed(subject, "", replaced)
	return nil
}

// Request invokes the handler registered for env's subject.
func (b *LocalBus) Request(ctx context.Context, env *envelope.Envelope) (json.RawMessage, error) {
	subject := env.Subject()
	start := time.Now()

	payload, err := b.request(ctx, subject, env)

	b.opts.metrics.RecordRequest(subject, cerrors.Code(err).String(), time.Since(start))
	if err != nil {
		b.opts.logger.RequestFailed(subject, env.ID, time.Since(start), err)
	} else {
		b.opts.logger.RequestSent(subject, env.ID, time.Since(start))
	}
	return payload, err
}

func (b *LocalBus) request(ctx context.Context, subject string, env *envelope.Envelope) (json.RawMessage, error) {
	h, ok := b.handlers.Get(subject)
	if !ok {
		return nil, cerrors.NotFound("no handler for subject: "+subject, cerrors.WithSubject(subject))
	}

	payload, panicked, err := safeHandle(ctx, h, env)
	if panicked {
		b.opts.metrics.RecordPanic(subject)
	}
	if err != nil {
		// Same lossy fold the wire applies.
		return nil, envelope.DetailsFromError(err).Err()
	}
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(payload) {
		return nil, cerrors.Internal("handler returned invalid JSON", cerrors.WithSubject(subject))
	}
	return payload, nil
}

// Subjects returns the registered subjects, sorted.
func (b *LocalBus) Subjects() []string {
	return b.handlers.Subjects()
}

// Close drops every handler.
func (b *LocalBus) Close() error {
	b.handlers.Clear()
	return nil
}
