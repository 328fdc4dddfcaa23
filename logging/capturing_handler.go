package logging

import (
	"context"
	"log/slog"
	"time"
)

// CapturingHandler passes records through to another handler and copies
// them into a LogCollector under one activity UID.
//
// Records are captured at every level, even when the underlying handler
// filters them out. Attributes inside groups are stored with dotted keys.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	uid        string
	attrs      map[string]any
	prefix     string
}

// NewCapturingHandler creates a handler capturing into collector under uid.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector, uid string) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		uid:        uid,
	}
}

// Enabled always reports true so that every level is captured.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle captures r and forwards it if the underlying handler accepts its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for k, v := range h.attrs {
		entry.Attributes[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(entry.Attributes, h.prefix, a)
		return true
	})
	h.collector.AddLog(h.uid, entry)

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs returns a CapturingHandler so capture survives Logger.With.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, a := range attrs {
		addAttr(merged, h.prefix, a)
	}
	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		uid:        h.uid,
		attrs:      merged,
		prefix:     h.prefix,
	}
}

// WithGroup returns a CapturingHandler so capture survives Logger.WithGroup.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		uid:        h.uid,
		attrs:      h.attrs,
		prefix:     h.prefix + name + ".",
	}
}

// addAttr stores a under prefix, flattening groups into dotted keys.
func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = resolveValue(v)
}

// resolveValue converts a resolved slog.Value to a JSON-friendly value.
func resolveValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	default:
		a := v.Any()
		if err, ok := a.(error); ok {
			return err.Error()
		}
		if s, ok := a.(interface{ String() string }); ok {
			return s.String()
		}
		return a
	}
}
