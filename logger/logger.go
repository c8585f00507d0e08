// Package logger provides structured logging for the milterfrom filter.
//
// This package wraps Go's standard library slog with support for
// multiple outputs:
//   - Console (stdout/stderr)
//   - File
//   - Syslog (mail facility)
//
// Initialize the logger once at application startup:
//
//	logFile, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logFile.Close()
//
// Use the package-level functions for logging, or derive a child logger
// carrying connection attributes with With:
//
//	logger.Info("Milter listening", "network", network, "addr", addr)
//	log := logger.With("conn", id)
//	log.Debug("Header checked", "match", true)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/migadu/milterfrom/config"
)

var (
	// Global logger instance
	globalLogger *slog.Logger
)

// syslogHandler writes records to the mail syslog facility as a single
// "message key=value ..." line, the way MTAs log to maillog.
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Level
	prefix string // preformatted attributes from With
}

func newSyslogHandler(w *syslog.Writer, level slog.Level) *syslogHandler {
	return &syslogHandler{writer: w, level: level}
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, a)
		return true
	})
	line := b.String()

	switch {
	case r.Level >= slog.LevelError:
		return h.writer.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.writer.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.writer.Info(line)
	default:
		return h.writer.Debug(line)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&b, a)
	}
	return &syslogHandler{writer: h.writer, level: h.level, prefix: b.String()}
}

// WithGroup is a no-op: syslog lines are flat key/value lists.
func (h *syslogHandler) WithGroup(_ string) slog.Handler {
	return h
}

// appendAttr writes " key=value", quoting values that contain blanks,
// quotes or '=' so a line stays machine readable.
func appendAttr(b *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			if a.Key != "" {
				ga.Key = a.Key + "." + ga.Key
			}
			appendAttr(b, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(a.Key)
	b.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\"=") {
		v = strconv.Quote(v)
	}
	b.WriteString(v)
}

// Initialize sets up the global logger based on configuration.
// The returned file is non-nil when logging goes to a file and must be closed by the caller.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	var logFile *os.File

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	format := cfg.Format
	if format == "" {
		format = "console"
	}

	handlerOpts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	var handler slog.Handler

	switch output {
	case "stdout":
		handler = newStreamHandler(os.Stdout, format, handlerOpts)

	case "stderr":
		handler = newStreamHandler(os.Stderr, format, handlerOpts)

	case "syslog":
		if runtime.GOOS == "windows" {
			fmt.Fprintf(os.Stderr, "WARNING: syslog is not supported on Windows. Falling back to stderr.\n")
			handler = newStreamHandler(os.Stderr, format, handlerOpts)
			break
		}
		syslogWriter, err := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, "milterfrom")
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v. Falling back to stderr.\n", err)
			handler = newStreamHandler(os.Stderr, format, handlerOpts)
			break
		}
		handler = newSyslogHandler(syslogWriter, handlerOpts.Level.Level())

	default:
		// Assume it's a file path
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to open log file '%s': %v. Falling back to stderr.\n", output, err)
			handler = newStreamHandler(os.Stderr, format, handlerOpts)
			break
		}
		logFile = f
		handler = newStreamHandler(logFile, format, handlerOpts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return logFile, nil
}

func newStreamHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Info logs an info message with optional key-value pairs
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs a debug message with optional key-value pairs
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs a warning message with optional key-value pairs
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
