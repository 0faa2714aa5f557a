// Package logging holds the slog setup shared by the hub and the worker.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a log_level string onto a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q: want debug|info|warn|error", s)
}

// Setup installs a JSON logger writing to w as the slog default and returns
// the LevelVar controlling it, so the level can change on config reload.
func Setup(w io.Writer) *slog.LevelVar {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	return level
}

// SetLevel parses s and applies it to level. An invalid s leaves level
// unchanged and returns the parse error.
func SetLevel(level *slog.LevelVar, s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(l)
	return nil
}
