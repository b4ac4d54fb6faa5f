package body

import (
	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/metrics"
	"github.com/vinayprograms/cellbus/telemetry"
)

type options struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *telemetry.Tracer
}

// Option configures a bus.
type Option func(*options)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer. Default: the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.tracer == nil {
		o.tracer = telemetry.GetTracer()
	}
	return o
}
