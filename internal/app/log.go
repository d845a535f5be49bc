package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
)

// LogFile is the name of the log file inside the log directory.
const LogFile = "modtool.log"

// fileHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type fileHandler struct {
	w     io.Writer
	opID  string
	attrs []slog.Attr
}

func (h *fileHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *fileHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)
	if err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *fileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fileHandler{
		w:     h.w,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *fileHandler) WithGroup(string) slog.Handler { return h }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// newConsoleHandler writes human-readable records to w. Debug output is
// only shown when verbose is set.
func newConsoleHandler(w io.Writer, verbose bool) slog.Handler {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	return charmlog.NewWithOptions(w, charmlog.Options{
		Prefix:          "modtool",
		Level:           level,
		ReportTimestamp: verbose,
	})
}

// newLogger creates a structured logger that appends every record to
// logDir/modtool.log and shows them on console. A nil console logs to the
// file only. It returns the slog.Logger and the open log file for cleanup.
func newLogger(logDir, opID string, console io.Writer, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFile)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handlers := fanout{&fileHandler{w: f, opID: opID}}
	if console != nil {
		handlers = append(handlers, newConsoleHandler(console, verbose))
	}
	return slog.New(handlers), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the modtool.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
