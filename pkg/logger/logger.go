// Package logger provides a small structured-logging wrapper around zerolog
// shared by every package in the gateway.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field inline, e.g. logger.F("apiKey", key).
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface the rest of the codebase depends on, never on
// zerolog directly, so call sites stay agnostic of the backing library.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	With(fields ...Field) Logger
}

type zeroLogger struct {
	z zerolog.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// in either "json" or "console" format.
func New(level, format string) Logger {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter is New but against an explicit writer.
func NewWithWriter(level, format string, w io.Writer) Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = w
	if strings.EqualFold(format, "console") {
		writer = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(writer).With().Timestamp().Logger()
	z = z.Level(parseLevel(level))

	return &zeroLogger{z: z}
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func apply(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	return ev
}

func (l *zeroLogger) Debug(msg string, fields ...Field) {
	apply(l.z.Debug(), fields).Msg(msg)
}

func (l *zeroLogger) Info(msg string, fields ...Field) {
	apply(l.z.Info(), fields).Msg(msg)
}

func (l *zeroLogger) Warn(msg string, fields ...Field) {
	apply(l.z.Warn(), fields).Msg(msg)
}

func (l *zeroLogger) Error(msg string, err error, fields ...Field) {
	ev := l.z.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	apply(ev, fields).Msg(msg)
}

func (l *zeroLogger) With(fields ...Field) Logger {
	ctx := l.z.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zeroLogger{z: ctx.Logger()}
}

// Nop returns a Logger that discards everything, used as a safe zero value.
func Nop() Logger {
	return &zeroLogger{z: zerolog.Nop()}
}
