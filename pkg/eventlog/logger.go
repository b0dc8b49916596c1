package eventlog

import (
	"context"
	"time"
)

// Logger receives trace events. Implementations must be safe for
// concurrent use and should not block.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// Emit stamps event with the current time if unset and sends it to l.
// A nil l is allowed.
func Emit(l Logger, event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Log(event)
}

// MultiLogger sends events to several loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends the event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)

type sessionKey struct{}

// WithSession tags ctx with a session ID so that vendor exchanges made
// under it are attributed to that session.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session ID set by WithSession, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
