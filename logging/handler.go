package logging

import (
	"context"
	"log/slog"
)

// componentKey is the attribute loggers use to identify themselves for
// per-component filtering.
const componentKey = "component"

// filteringHandler drops records below the effective level for their
// component. The component is taken from attributes accumulated via
// With; a record with no component uses the base level.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner with per-component level filtering.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{inner: inner, spec: spec}
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	// Without a record we cannot know the component, so admit anything
	// that at least one component would accept. Handle re-checks per
	// record.
	min := h.spec.BaseLevel
	for _, l := range h.spec.Components {
		if l < min {
			min = l
		}
	}
	return level >= min.ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	component := h.component
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == componentKey {
			component = attr.Value.String()
			return false
		}
		return true
	})
	if record.Level < h.spec.LevelFor(component).ToSlog() {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, attr := range attrs {
		if attr.Key == componentKey {
			component = attr.Value.String()
		}
	}
	return &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: component,
	}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
