package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds command-scoped logging fields. The dispatcher attaches one
// per bus command so backend packages can log with the channel and scheme
// without threading them through every call.
type LogContext struct {
	TraceID    string
	SpanID     string
	Channel    uint8
	HasChannel bool   // Channel 0 is valid, so presence is tracked separately
	Command    string // OPEN, READ, STATUS, ...
	Scheme     string // TNFS, HTTP, ...
	SessionID  string // per-open session id
	ClientAddr string // bus client address
	StartTime  time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a bus client.
func NewLogContext(clientAddr string) *LogContext {
	return &LogContext{
		ClientAddr: clientAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithCommand returns a copy scoped to one command on one channel.
// The start time is reset so DurationMs measures the command.
func (lc *LogContext) WithCommand(channel uint8, command string) *LogContext {
	clone := lc.Clone()
	if clone == nil {
		clone = &LogContext{}
	}
	clone.Channel = channel
	clone.HasChannel = true
	clone.Command = command
	clone.StartTime = time.Now()
	return clone
}

// WithScheme returns a copy with the scheme and session set
func (lc *LogContext) WithScheme(scheme, sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Scheme = scheme
		clone.SessionID = sessionID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
