package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler used for output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

// Logger is a structured logger scoped to one component.
type Logger struct {
	*slog.Logger
}

// New creates a logger tagged with the given component name.
func New(component string, opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "actionator"),
	)
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Tests use it.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithAction returns a logger with action-specific fields
func (l *Logger) WithAction(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("action", name))}
}

// WithRun returns a logger with run-specific fields
func (l *Logger) WithRun(action, runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("action", action),
			slog.String("run_id", runID),
		),
	}
}

// WithPanel returns a logger with panel-specific fields
func (l *Logger) WithPanel(panelID, title string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("panel_id", panelID),
			slog.String("panel_title", title),
		),
	}
}

// Err logs err at error level with the given message.
func (l *Logger) Err(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{slog.Any("error", err)}, attrs...)
	l.Logger.ErrorContext(ctx, msg, args...)
}
