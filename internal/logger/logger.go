// Package logger carries a leveled [slog.Logger] through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is a structured logger with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// New returns a Logger writing text records to w at the info level.
func New(w io.Writer) *Logger {
	level := new(slog.LevelVar)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
		Level:  level,
	}
}

// SetDebug switches the logger between debug and info levels.
func (l *Logger) SetDebug(debug bool) {
	if debug {
		l.Level.Set(slog.LevelDebug)
		return
	}
	l.Level.Set(slog.LevelInfo)
}

type ctxKey struct{}

// Put returns a copy of ctx carrying l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

var defaultLogger = New(os.Stderr)

// Get returns the Logger carried by ctx, or a default one writing to stderr.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return defaultLogger
}
