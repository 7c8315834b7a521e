// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package logger wraps log/slog with the defaults geoclued uses everywhere:
// a text handler on stderr (or an injected writer in tests) and a short
// helper for attaching an error value to a log line.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a thin wrapper around *slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to os.Stderr at the given level.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger creates a Logger writing to w at the given level.
func NewLogger(level slog.Level, w io.Writer) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler)}
}

// Err returns a slog.Attr carrying err under the "error" key, or a no-op
// attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
