package progress

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Compile-time interface check.
var _ slog.Handler = (*PrettyHandler)(nil)

// PrettyHandler writes colored output to an io.Writer. Attributes registered
// via WithAttrs and WithGroup are accumulated in the prefix field; the deck
// name reads "beam.inp: ", others "key=val " and groups "group.". Of the
// inline record attributes only path, error and duration are shown; the
// json and text formats carry the rest.
type PrettyHandler struct {
	out    io.Writer
	level  slog.Leveler
	mu     *sync.Mutex
	prefix string
}

// NewPrettyHandler returns a PrettyHandler that writes to out at the given level.
func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{
		out:   out,
		level: level,
		mu:    &sync.Mutex{},
	}
}

var (
	_warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	_errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	_debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // dim
	_cyanStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // cyan
)

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes the record's message with ANSI color based on level.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var path, cause, dur string
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "path":
			path = a.Value.String()
		case "error":
			cause = a.Value.String()
		case "duration":
			dur = a.Value.String()
		}
		return true
	})

	var sb strings.Builder
	_, _ = sb.WriteString(h.prefix)
	_, _ = sb.WriteString(r.Message)
	if path != "" {
		_, _ = sb.WriteString(" @ " + path)
	}
	if cause != "" && r.Level >= slog.LevelWarn {
		_, _ = sb.WriteString(": " + cause)
	}
	msg := sb.String()

	var line string
	switch {
	case r.Level >= slog.LevelError:
		line = _errorStyle.Render(msg)
	case r.Level >= slog.LevelWarn:
		line = _warnStyle.Render(msg)
	case r.Level < slog.LevelInfo:
		line = _debugStyle.Render(msg)
	default:
		line = msg
	}
	if dur != "" {
		line += " " + _cyanStyle.Render(dur)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line+"\n")
	return err
}

// WithAttrs returns a new handler that prepends the given attributes to messages.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	buf := make([]byte, 0, len(h.prefix)+len(attrs)*16)
	buf = append(buf, h.prefix...)
	for _, a := range attrs {
		if a.Key == slogctx.DeckKey {
			buf = append(buf, a.Value.String()...)
			buf = append(buf, ": "...)
			continue
		}
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, a.Value.String()...)
		buf = append(buf, ' ')
	}
	return &PrettyHandler{out: h.out, level: h.level, mu: h.mu, prefix: string(buf)}
}

// WithGroup returns a new handler that prepends the group name to messages.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &PrettyHandler{out: h.out, level: h.level, mu: h.mu, prefix: h.prefix + name + "."}
}

// NewLogger creates a logger writing to out. format is one of pretty, json
// or text; the CLI validates it, anything else falls back to text.
func NewLogger(out io.Writer, format string, level slog.Level) *slog.Logger {
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	case "pretty":
		return slog.New(NewPrettyHandler(out, level))
	default:
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	}
}
