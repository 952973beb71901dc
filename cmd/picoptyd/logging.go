package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

func parseLevel(s string) slog.Level {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		log.Printf("unknown --log-level=%q (expected debug|info|warn|error); defaulting to info", s)
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. The returned func closes the log
// file, if one was opened.
func newLogger(level slog.Level, json bool, file string, stderr io.Writer) (*slog.Logger, func(), error) {
	out := stderr
	closeFn := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closeFn, nil
}
