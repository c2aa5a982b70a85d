package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const masked = "***MASKED***"

var sensitiveKeys = []string{"key", "secret", "token", "password", "authorization"}

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a JSON logger writing to w. Attributes naming
// credentials are replaced before they reach the output.
func NewWithWriter(w io.Writer, level string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: maskSensitive,
	}

	handler := slog.NewJSONHandler(w, opts)
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}

// WithThread returns a child logger tagged with the conversation thread.
func (l *Logger) WithThread(threadID string) *Logger {
	return &Logger{Logger: l.Logger.With("thread_id", threadID)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func maskSensitive(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	lower := strings.ToLower(a.Key)
	for _, part := range sensitiveKeys {
		if strings.Contains(lower, part) {
			return slog.String(a.Key, masked)
		}
	}
	return a
}
