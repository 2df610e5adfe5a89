package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog logger on stdout. LOG_LEVEL=debug lowers the threshold.
func Setup() {
	slog.SetDefault(slog.New(NewStdoutHandler()))
}

// NewStdoutHandler returns the JSON handler used for process output.
func NewStdoutHandler() slog.Handler {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
}
