package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// PrettyJSONHandler writes every record as an indented JSON object. It is
// meant for reading search traces by eye, not for throughput.
type PrettyJSONHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool

	attrs  []groupedAttr
	groups []string
}

// groupedAttr is an attr added by WithAttrs under the first depth groups.
type groupedAttr struct {
	depth int
	attr  slog.Attr
}

func NewPrettyJSONHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyJSONHandler {
	h := &PrettyJSONHandler{mu: &sync.Mutex{}, w: w, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *PrettyJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyJSONHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	out := map[string]any{
		slog.TimeKey:    when.Format(time.RFC3339Nano),
		slog.LevelKey:   r.Level.String(),
		slog.MessageKey: r.Message,
	}
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		out[slog.SourceKey] = frame.File + ":" + strconv.Itoa(frame.Line)
	}

	// levels[i] is the object for the first i groups, created on first use.
	levels := []map[string]any{out}
	at := func(depth int) map[string]any {
		for len(levels) <= depth {
			child := map[string]any{}
			levels[len(levels)-1][h.groups[len(levels)-1]] = child
			levels = append(levels, child)
		}
		return levels[depth]
	}
	for _, ga := range h.attrs {
		putAttr(at(ga.depth), ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(at(len(h.groups)), a)
		return true
	})

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		b, _ = json.Marshal(map[string]any{
			slog.TimeKey:    out[slog.TimeKey],
			slog.LevelKey:   out[slog.LevelKey],
			slog.MessageKey: r.Message,
			"log_error":     err.Error(),
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *PrettyJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]groupedAttr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, groupedAttr{depth: len(h.groups), attr: a})
	}
	return &c
}

func (h *PrettyJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func putAttr(dst map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	switch v.Kind() {
	case slog.KindGroup:
		target := dst
		if a.Key != "" {
			target = map[string]any{}
			dst[a.Key] = target
		}
		for _, ga := range v.Group() {
			putAttr(target, ga)
		}
	case slog.KindDuration:
		dst[a.Key] = v.Duration().String()
	case slog.KindTime:
		dst[a.Key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			dst[a.Key] = x.Error()
		case fmt.Stringer:
			dst[a.Key] = x.String()
		default:
			dst[a.Key] = x
		}
	default:
		dst[a.Key] = v.Any()
	}
}
