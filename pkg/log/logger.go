package log

import (
	"log/slog"
	"os"
	"strings"
)

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a configured level name to its slog level. Unknown
// names fall back to info
func ParseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// New constructs a JSON slog.Logger for the named level
func New(service, env, version, level string) *slog.Logger {
	return NewWithLevel(service, env, version, ParseLevel(level))
}

// NewWithLevel constructs a JSON slog.Logger at the provided level
func NewWithLevel(service, env, version string, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version))
}
