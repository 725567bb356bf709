package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger. Messages take alternating
// key/value pairs after the message, e.g. Info("started", "port", 8080).
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger writing to w. When pretty is set, output is
// human-readable console text instead of JSON.
func New(w io.Writer, level string, pretty bool) *Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		zl: zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "complyflow").Logger(),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(normalize(keyvals)).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.zl.Debug().Fields(normalize(keyvals)).Msg(msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.zl.Info().Fields(normalize(keyvals)).Msg(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.zl.Warn().Fields(normalize(keyvals)).Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.zl.Error().Fields(normalize(keyvals)).Msg(msg)
}

// normalize pads an odd keyvals list so zerolog never drops the last value.
func normalize(keyvals []any) []any {
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, "(missing)")
	}
	return keyvals
}
