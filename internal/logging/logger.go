package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/carlmjohnson/versioninfo"
)

const serviceName = "switchbot-cloud"

// New creates a process logger with JSON output for backend services.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter tags every record with the service name and build version.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", serviceName, "version", versioninfo.Short())
}
