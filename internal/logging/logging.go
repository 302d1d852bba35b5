// Package logging configures the process-wide slog logger for the visit server.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs the default logger on stdout.
func Setup(devMode bool) {
	slog.SetDefault(New(os.Stdout, devMode))
}

// New returns a logger writing to w. Dev mode logs text at debug level;
// otherwise JSON at info level, which is what the log shipper expects.
func New(w io.Writer, devMode bool) *slog.Logger {
	if devMode {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
