/*
Package logx provides a structured logging wrapper based on zerolog.

It owns the process-wide logger: JSON output in production, a colored console
writer in development. Call sites use the key/value helpers (Info, Warn, Error,
Fatal) or derive a component logger with Component.
*/
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const service = "globetrotter"

// InitGlobalLogger initializes the global zerolog instance.
// Development: Debug level, ConsoleWriter on stderr.
// Production: Info level, JSON on stdout.
func InitGlobalLogger(isDevelopment bool) {
	if isDevelopment {
		SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, zerolog.DebugLevel)
		return
	}
	SetOutput(os.Stdout, zerolog.InfoLevel)
}

// SetOutput replaces the global logger with one writing to w at level.
// Every entry carries a Unix timestamp, the service name and the caller.
func SetOutput(w io.Writer, level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	log.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
}

// Logger returns a pointer to the global zerolog.Logger instance.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// emit writes one entry. An odd field count is reported and the fields are
// dropped, since zerolog would panic on them.
func emit(ev *zerolog.Event, level string, err error, msg string, fields []any) {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msgf("Logx call (%s) received odd number of fields: %v. Fields ignored.", level, fields)
		fields = nil
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Fields(fields).CallerSkipFrame(2).Msg(msg)
}

// Debug records a message at the Debug level with optional key/value fields.
func Debug(msg string, fields ...any) {
	emit(Logger().Debug(), "Debug", nil, msg, fields)
}

// Info records a message at the Info level with optional key/value fields.
func Info(msg string, fields ...any) {
	emit(Logger().Info(), "Info", nil, msg, fields)
}

// Warn records a message at the Warn level with optional key/value fields.
func Warn(msg string, fields ...any) {
	emit(Logger().Warn(), "Warn", nil, msg, fields)
}

// Error records err and a message at the Error level.
func Error(err error, msg string, fields ...any) {
	emit(Logger().Error(), "Error", err, msg, fields)
}

// Fatal records err at the Fatal level and exits the process.
// Only startup code in main should call it.
func Fatal(err error, msg string, fields ...any) {
	emit(Logger().Fatal(), "Fatal", err, msg, fields)
}
