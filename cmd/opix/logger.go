package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/jpalmerr/opix/config"
)

// newLogger creates a logger for CLI use from the log section of the config.
// Unknown levels fall back to info; validation rejects them earlier.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
