// OpenTelemetry tracing for requests crossing the bus.
package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	cerrors "github.com/vinayprograms/cellbus/errors"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/vinayprograms/cellbus"

// maxPayloadAttr caps the payload copied into a debug span.
const maxPayloadAttr = 4000

// Tracer starts the request and dispatch spans of the bus.
type Tracer struct {
	tracer trace.Tracer

	// debug copies payloads into span attributes.
	debug bool
}

var global atomic.Pointer[Tracer]

var noopTracer = &Tracer{tracer: noop.NewTracerProvider().Tracer(InstrumentationName)}

// SetGlobalTracer replaces the tracer GetTracer returns. Nil restores the
// no-op tracer.
func SetGlobalTracer(t *Tracer) { global.Store(t) }

// GetTracer returns the installed tracer, or one that records nothing.
func GetTracer() *Tracer {
	if t := global.Load(); t != nil {
		return t
	}
	return noopTracer
}

// NewTracerFromProvider creates a tracer on tp.
func NewTracerFromProvider(tp trace.TracerProvider, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(InstrumentationName), debug: debug}
}

// Debug reports whether payloads are recorded.
func (t *Tracer) Debug() bool { return t.debug }

func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// MessageSpanOptions describes one envelope crossing the bus.
type MessageSpanOptions struct {
	Subject string
	ID      string
	Schema  string
	Payload json.RawMessage // recorded in debug mode only
}

func (o MessageSpanOptions) attributes(debug bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs,
		attribute.String("messaging.system", "nats"),
		attribute.String("messaging.destination.name", o.Subject),
		attribute.String("messaging.message.id", o.ID),
	)
	if o.Schema != "" {
		attrs = append(attrs, attribute.String("cbs.schema", o.Schema))
	}
	if debug && len(o.Payload) > 0 {
		p := string(o.Payload)
		if len(p) > maxPayloadAttr {
			p = p[:maxPayloadAttr] + "..."
		}
		attrs = append(attrs, attribute.String("cbs.payload", p))
	}
	return attrs
}

func (t *Tracer) start(ctx context.Context, verb string, kind trace.SpanKind, opts MessageSpanOptions) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, verb+" "+opts.Subject,
		trace.WithSpanKind(kind),
		trace.WithAttributes(opts.attributes(t.debug)...),
	)
}

// StartRequestSpan starts the caller-side span of a request.
func (t *Tracer) StartRequestSpan(ctx context.Context, opts MessageSpanOptions) (context.Context, trace.Span) {
	return t.start(ctx, "request", trace.SpanKindClient, opts)
}

// StartDispatchSpan starts the serving-side span of a handler invocation.
// ctx should already carry the caller's extracted trace context.
func (t *Tracer) StartDispatchSpan(ctx context.Context, opts MessageSpanOptions) (context.Context, trace.Span) {
	return t.start(ctx, "dispatch", trace.SpanKindServer, opts)
}

// EndSpan records err, if any, and ends the span. Typed errors add their
// code as cbs.error.code.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	if code := cerrors.Code(err); code != "" {
		span.SetAttributes(attribute.String("cbs.error.code", code.String()))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectContext writes the trace context of ctx into carrier, normally an
// outgoing message header.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext returns ctx joined to the remote trace found in carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
