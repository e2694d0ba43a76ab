// Package logger builds the service's slog logger and the attribute helpers
// used across packages. Helpers return an empty Attr for zero inputs, which
// handlers drop, so callers never need nil checks.
package logger

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// New returns a JSON logger for format "json" and a text logger otherwise.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard drops everything. Used by tests and as a nil-logger default.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func CampaignID(id int) slog.Attr {
	return slog.Int("campaign_id", id)
}

func Email(addr string) slog.Attr {
	if addr == "" {
		return slog.Attr{}
	}
	return slog.String("email", addr)
}

func JobID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("job_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// Elapsed logs the time since start under "elapsed".
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

func RetryCount(n int) slog.Attr {
	return slog.Int("retry_count", n)
}
