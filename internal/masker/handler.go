package masker

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and redacts registered secrets from the
// message and every string attribute before the record reaches the inner
// handler. Group and key names are not masked; secrets do not belong in
// attribute keys.
type Handler struct {
	inner  slog.Handler
	masker *Masker
}

// NewHandler wraps inner with redaction backed by m.
func NewHandler(inner slog.Handler, m *Masker) *Handler {
	return &Handler{inner: inner, masker: m}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, h.masker.Mask(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		maskedAttrs[i] = h.maskAttr(attr)
	}
	return &Handler{inner: h.inner.WithAttrs(maskedAttrs), masker: h.masker}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), masker: h.masker}
}

func (h *Handler) maskAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.masker.Mask(value.String()))
	case slog.KindGroup:
		group := value.Group()
		maskedGroup := make([]any, 0, len(group))
		for _, member := range group {
			maskedGroup = append(maskedGroup, h.maskAttr(member))
		}
		return slog.Group(attr.Key, maskedGroup...)
	default:
		return attr
	}
}
