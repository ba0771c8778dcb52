package logging

import (
	"context"
	"log/slog"
)

// instanceHandler stamps every record with the process instance id.
type instanceHandler struct {
	base       slog.Handler
	instanceID string
}

func newInstanceHandler(base slog.Handler, instanceID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	return &instanceHandler{base: base, instanceID: instanceID}
}

func (h *instanceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *instanceHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldInstanceID, h.instanceID))
	return h.base.Handle(ctx, record)
}

func (h *instanceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &instanceHandler{base: h.base.WithAttrs(attrs), instanceID: h.instanceID}
}

func (h *instanceHandler) WithGroup(name string) slog.Handler {
	return &instanceHandler{base: h.base.WithGroup(name), instanceID: h.instanceID}
}
