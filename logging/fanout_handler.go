package logging

import (
	"context"
	"log/slog"
)

// fanoutHandler dispatches every record to multiple underlying handlers,
// skipping any handler whose own Enabled check rejects the record's level.
type fanoutHandler struct {
	handlers []slog.Handler
}

// noopHandler discards everything; returned when newFanoutHandler is given
// no usable handlers.
type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool       { return false }
func (noopHandler) Handle(context.Context, slog.Record) error      { return nil }
func (h noopHandler) WithAttrs(_ []slog.Attr) slog.Handler          { return h }
func (h noopHandler) WithGroup(_ string) slog.Handler               { return h }

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	var filtered []slog.Handler
	for _, h := range handlers {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	switch len(filtered) {
	case 0:
		return noopHandler{}
	case 1:
		return filtered[0]
	default:
		return &fanoutHandler{handlers: filtered}
	}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for i, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		r := record
		if i < len(f.handlers)-1 {
			r = record.Clone()
		}
		if err := h.Handle(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
