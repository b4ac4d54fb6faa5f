// Package logging provides structured log output for buses and cells.
// Entries are JSON lines written through zerolog; Pretty switches to the
// human-readable console writer.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a case-insensitive level name to a Level.
// Unknown names fall back to LevelInfo.
func ParseLevel(s string) Level {
	level, _ := LookupLevel(s)
	return level
}

// LookupLevel is ParseLevel that also reports whether s named a level.
func LookupLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger writes structured entries. The zero value is not usable; call New.
type Logger struct {
	mu        sync.RWMutex
	output    io.Writer
	minLevel  Level
	pretty    bool
	component string
	traceID   string
	zl        zerolog.Logger
}

// New creates a Logger writing JSON to stdout at INFO.
func New() *Logger {
	l := &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
	l.rebuild()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
	l.zl = zerolog.Nop()
	return l
}

// rebuild recreates the zerolog logger from the current settings.
// Caller holds mu for writing, or has exclusive access.
func (l *Logger) rebuild() {
	out := l.output
	if l.pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
			NoColor:    true,
		}
	}

	ctx := zerolog.New(zerolog.SyncWriter(out)).
		Level(l.minLevel.zerolog()).
		With().
		Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.traceID != "" {
		ctx = ctx.Str("trace_id", l.traceID)
	}
	l.zl = ctx.Logger()
}

func (l *Logger) derive(component, traceID string) *Logger {
	l.mu.RLock()
	n := &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		pretty:    l.pretty,
		component: component,
		traceID:   traceID,
	}
	l.mu.RUnlock()
	n.rebuild()
	return n
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	l.rebuild()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// SetPretty toggles the console writer.
func (l *Logger) SetPretty(pretty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pretty = pretty
	l.rebuild()
}

// Zerolog exposes the underlying logger for libraries that want one.
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(zerolog.ErrorLevel, msg, fields...)
}

func (l *Logger) log(level zerolog.Level, msg string, fields ...map[string]interface{}) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()

	ev := zl.WithLevel(level)
	if ev == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}

// --- Bus and cell events ---

// RequestSent logs a completed request.
func (l *Logger) RequestSent(subject, id string, duration time.Duration) {
	l.Debug("request_sent", map[string]interface{}{
		"subject":  subject,
		"id":       id,
		"duration": duration.String(),
	})
}

// RequestFailed logs a request that returned an error.
func (l *Logger) RequestFailed(subject, id string, duration time.Duration, err error) {
	l.Warn("request_failed", map[string]interface{}{
		"subject":  subject,
		"id":       id,
		"duration": duration.String(),
		"error":    err.Error(),
	})
}

// Dispatched logs a handler invocation on the serving side.
func (l *Logger) Dispatched(subject, id string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"subject":  subject,
		"id":       id,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("handler_error", fields)
		return
	}
	l.Debug("dispatched", fields)
}

// MessageDropped logs an inbound message that could not be decoded.
func (l *Logger) MessageDropped(subject, reason string) {
	l.Warn("message_dropped", map[string]interface{}{
		"subject": subject,
		"reason":  reason,
	})
}

// Subscribed logs a new or replaced subject registration.
func (l *Logger) Subscribed(subject, queue string, replaced bool) {
	l.Info("subscribed", map[string]interface{}{
		"subject":  subject,
		"queue":    queue,
		"replaced": replaced,
	})
}

// CellRegistered logs a cell that finished registering its subjects.
func (l *Logger) CellRegistered(id string, subjects []string) {
	l.Info("cell_registered", map[string]interface{}{
		"cell":     id,
		"subjects": strings.Join(subjects, ","),
	})
}

// ConnectionEvent logs broker connection changes.
func (l *Logger) ConnectionEvent(event, url string, err error) {
	fields := map[string]interface{}{
		"event": event,
	}
	if url != "" {
		fields["url"] = url
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("connection", fields)
		return
	}
	l.Info("connection", fields)
}
