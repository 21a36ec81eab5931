package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger writes JSON records to stdout tagged with the service name.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New builds a JSON logger on w. Duration attrs are written as milliseconds.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: durationsAsMillis,
	})
	return slog.New(handler).With("service", service)
}

// ParseLevel accepts slog level names with optional offsets ("debug",
// "warn+2") and the "warning" alias. Anything else is info.
func ParseLevel(level string) slog.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "warning" {
		return slog.LevelWarn
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

func durationsAsMillis(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.Float64(a.Key, float64(a.Value.Duration().Microseconds())/1000.0)
	}
	return a
}
