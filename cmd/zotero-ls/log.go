package main

import (
	"log/slog"
	"os"
)

// setupLog installs the default logger. Logs go to stderr: stdout carries
// protocol messages while serving.
func setupLog(verbosity int) {
	level := slog.LevelWarn
	switch {
	case os.Getenv("DEBUG") != "" || verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})))
}
