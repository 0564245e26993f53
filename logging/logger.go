// Package logging provides consistent structured logging using slog.
//
// All casesync processes log in one line format so pipeline output can be
// grepped and tailed alongside the PocketBase server logs:
//
//	2026-08-29T03:00:01Z [casesync] INFO Manifest built procedures=42 cases=1870
//
// Initialize once at startup with logging.Init("casesync"), then use slog
// directly throughout the codebase.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LineHandler implements slog.Handler with the unified line format
type LineHandler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
}

// NewHandler creates a handler with the unified line format
func NewHandler(source string, w io.Writer, level slog.Level) *LineHandler {
	return &LineHandler{
		source: source,
		writer: w,
		level:  level,
	}
}

// Enabled reports whether the handler handles records at the given level
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05Z"))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		fmt.Fprintf(&buf, "%v", a.Value.Any())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

// WithAttrs returns a new handler with the given attributes
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LineHandler{
		source: h.source,
		writer: h.writer,
		level:  h.level,
		attrs:  merged,
	}
}

// WithGroup returns the handler unchanged; groups are flattened into the
// single line format
func (h *LineHandler) WithGroup(_ string) slog.Handler {
	return h
}

// NewLogger creates a new slog logger with the unified format, at the
// level selected by LOG_LEVEL (default INFO)
func NewLogger(source string, w io.Writer) *slog.Logger {
	return NewLoggerWithLevel(source, w, levelFromEnv())
}

// NewLoggerWithLevel creates a new slog logger with an explicit level
func NewLoggerWithLevel(source string, w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(source, w, level))
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the default slog logger with the given source tag
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter initializes the default slog logger with a custom writer
// (used by tests)
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}

// Elapsed formats a duration for log attributes with second precision
func Elapsed(start time.Time) string {
	return time.Since(start).Truncate(time.Second).String()
}
