package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// Logger writes leveled events to the terminal. Loggers derived with With
// share one output.
type Logger struct {
	sink   *sink
	fields []slog.Attr
}

type sink struct {
	debug bool

	mu     sync.RWMutex
	out    io.Writer
	pretty bool
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	return &Logger{sink: &sink{debug: debug, out: os.Stderr, pretty: shouldPrettyPrint()}}
}

// Discard returns a logger that formats every level but writes nothing.
func Discard() *Logger {
	logger := New(true)
	logger.SetOutput(io.Discard)
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// With returns a logger that adds fields to every event. Event fields win
// over bound fields with the same key.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, fields: append(slices.Clip(l.fields), fields...)}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.sink.debug {
		return
	}
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil || !l.sink.debug {
		return
	}
	l.log(slog.LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields)
}

// SetOutput redirects terminal output. Styling is only kept for stderr.
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil || w == nil {
		return
	}
	l.sink.mu.Lock()
	l.sink.out = w
	if w != os.Stderr {
		l.sink.pretty = false
	}
	l.sink.mu.Unlock()
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr) {
	if len(l.fields) > 0 {
		attrs = append(slices.Clip(l.fields), attrs...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}
	l.sink.write(event)
}

func (s *sink) write(event Event) {
	s.mu.RLock()
	out, pretty := s.out, s.pretty
	s.mu.RUnlock()
	line := FormatEventLine(event)
	if pretty {
		line = FormatEventANSI(event)
	}
	_, _ = io.WriteString(out, line)
}
