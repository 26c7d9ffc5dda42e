package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// slogLogger bridges the process slog handler onto the glog contract so
// every component logs through one sink.
type slogLogger struct {
	inner *slog.Logger
}

func newSlogLogger(w io.Writer) glog.Logger {
	return &slogLogger{
		inner: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

func (l *slogLogger) Trace(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.inner.Error(msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(context.Context) glog.Logger {
	return l
}
