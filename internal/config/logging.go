package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is a custom slog level below [slog.LevelDebug] for wire-level
// forensics (full prompt/response payloads). The numeric value -8 follows
// the convention used by OpenTelemetry and other Go projects that extend
// slog with a Trace level.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
// Accepted values: trace, debug, info (or empty), warn/warning, error.
// Returns an error for unrecognized values.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] function
// that renders [LevelTrace] as "TRACE" in log output. Without it, slog
// renders the custom level as "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
