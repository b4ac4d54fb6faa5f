package shutdown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/cellbus/logging"
)

// Phases used by the body, in the order they stop.
const (
	PhaseWeb        = 10 // HTTP server and gateway sessions
	PhaseDeregister = 20 // directory entries and heartbeats
	PhaseBus        = 30 // subscriptions and the broker connection
	PhaseTelemetry  = 40 // pending spans
)

var (
	// ErrTimeout is reported when the deadline passes before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed wraps the errors of the handlers that failed.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// Handler stops one component. ctx expires with the shutdown deadline.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func lets a plain function serve as a Handler.
type Func func(ctx context.Context) error

func (f Func) OnShutdown(ctx context.Context) error { return f(ctx) }

// HandlerResult records how one handler finished.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result records a whole shutdown run.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed reports whether any handler failed or the deadline passed.
func (r *Result) Failed() bool { return r.Err != nil }

// FailedHandlers names the handlers that returned an error, in run order.
func (r *Result) FailedHandlers() []string {
	var names []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			names = append(names, hr.Name)
		}
	}
	return names
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0) and signal-triggered runs.
	Timeout time.Duration

	// DefaultPhase is used by Register.
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	ContinueOnError bool

	// Logger gets one line per handler. Nil discards.
	Logger *logging.Logger
}

// Validate rejects negative durations and phases.
func (c *Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidConfig, c.Timeout)
	case c.DefaultPhase < 0:
		return fmt.Errorf("%w: negative default phase %d", ErrInvalidConfig, c.DefaultPhase)
	}
	return nil
}

// DefaultConfig allows ten seconds and keeps going past failures.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
