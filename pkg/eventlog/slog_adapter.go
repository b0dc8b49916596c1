package eventlog

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors the trace into a structured logger at debug level,
// one "event" record per trace event.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelDebug, "event", eventAttrs(event)...)
}

func eventAttrs(e Event) []slog.Attr {
	attrs := make([]slog.Attr, 0, 10)
	attrs = append(attrs,
		slog.String("source", e.Source.String()),
		slog.String("category", e.Category.String()),
	)
	attrs = appendNonEmpty(attrs, "session", e.SessionID)
	attrs = appendNonEmpty(attrs, "target", e.Target)
	attrs = appendNonEmpty(attrs, "brand", e.Brand)

	if sc := e.StateChange; sc != nil {
		attrs = append(attrs, slog.String("old_state", sc.OldState), slog.String("new_state", sc.NewState))
		attrs = appendNonEmpty(attrs, "reason", sc.Reason)
	}
	if d := e.Discovery; d != nil {
		attrs = append(attrs, slog.String("model", d.Model), slog.String("confidence", d.Confidence))
		attrs = appendNonEmpty(attrs, "name", d.Name)
	}
	if x := e.Exchange; x != nil {
		attrs = append(attrs,
			slog.String("method", x.Method),
			slog.String("path", x.Path),
			slog.Int("status", x.Status),
			slog.Duration("duration", x.Duration),
		)
		attrs = appendNonEmpty(attrs, "err", x.Err)
	}
	if er := e.Error; er != nil {
		attrs = append(attrs, slog.String("error_msg", er.Message))
		attrs = appendNonEmpty(attrs, "error_context", er.Context)
	}
	return attrs
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)
