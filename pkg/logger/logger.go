// Package logger builds the slog loggers used across ipifhub.
//
// On a terminal, NewDefaultLogger colours records by level; clustering
// changes (coalesce, split, rebuild) are highlighted in green so they stand
// out among routine output.
package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/soundprediction/ipifhub/pkg/config"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// highlights are message prefixes printed in green at info level.
var highlights = []string{"coalesced", "split", "rebuilt", "reindex"}

// NewDefaultLogger returns a text logger on stderr at level. Output is
// coloured when stderr is a terminal.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(os.Stderr, level, isTerminal(os.Stderr)))
}

// New builds a logger from configuration. Format "json" selects JSON
// output; anything else gives the default text logger.
func New(cfg config.LogConfig) *slog.Logger {
	level := ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return NewDefaultLogger(level)
}

// ParseLevel maps debug, info, warn and error to slog levels, defaulting to
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ColorHandler is a text handler that wraps each line in an ANSI colour.
type ColorHandler struct {
	inner slog.Handler
	buf   *bytes.Buffer
	out   io.Writer
	mu    *sync.Mutex
	color bool
}

// NewColorHandler writes text records at or above level to w. Colour codes
// are only emitted when color is set.
func NewColorHandler(w io.Writer, level slog.Leveler, color bool) *ColorHandler {
	buf := &bytes.Buffer{}
	return &ColorHandler{
		inner: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level}),
		buf:   buf,
		out:   w,
		mu:    &sync.Mutex{},
		color: color,
	}
}

func (h *ColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	line := h.buf.Bytes()
	code := h.colorFor(r)
	if code == "" {
		_, err := h.out.Write(line)
		return err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	_, err := io.WriteString(h.out, code+string(line)+colorReset+"\n")
	return err
}

func (h *ColorHandler) colorFor(r slog.Record) string {
	if !h.color {
		return ""
	}
	switch {
	case r.Level >= slog.LevelError:
		return colorRed
	case r.Level >= slog.LevelWarn:
		return colorYellow
	case r.Level == slog.LevelInfo:
		msg := strings.ToLower(r.Message)
		for _, p := range highlights {
			if strings.HasPrefix(msg, p) {
				return colorGreen
			}
		}
	}
	return ""
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	return &c
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}
