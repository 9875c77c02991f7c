// Package logtrace configures the process logger and carries request ids through contexts.
package logtrace

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

// RequestIDKey is the context key under which middleware stores the request id.
const RequestIDKey = contextKey("requestId")

// InitLogger configures the global zerolog logger with unix timestamps on stderr.
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// SetLevel parses level and applies it globally. Unknown levels fall back to info.
func SetLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

// UseConsoleWriter switches the global logger to human readable output on w.
func UseConsoleWriter(w io.Writer) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// RequestIdFromContext returns the request id stored by the request logger, or "".
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, _ := ctx.Value(RequestIDKey).(string)
	return r
}

// IsTraceEnabled reports whether the global level lets trace events through.
func IsTraceEnabled() bool {
	return zerolog.GlobalLevel() <= zerolog.TraceLevel
}
