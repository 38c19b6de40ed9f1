// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package log provides the broker's single process-wide structured logger.
// Output is JSON on stdout, matching the teacher's slog-based singleton;
// level is controlled by CREDBROKER_LOG_LEVEL (or SetLevel for a CLI flag
// override) and defaults to warn. Nothing under this package ever takes a
// secret value as an argument — see internal/audit for the redaction
// discipline applied to request/session events.
package log

import (
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
)

func init() {
	level.Set(levelFromString(os.Getenv("CREDBROKER_LOG_LEVEL")))
}

func levelFromString(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "ERROR":
		return slog.LevelError
	case "WARN", "":
		return slog.LevelWarn
	default:
		return slog.LevelWarn
	}
}

// SetLevel overrides the logger's level at runtime, used by the CLI's
// --log-level flag once config has been resolved.
func SetLevel(s string) {
	level.Set(levelFromString(s))
}

// Log returns the thread-safe singleton *slog.Logger, creating it on first
// use.
func Log() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		return logger
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	return logger
}

// Fatal logs msg and exits the process with status 1. Per spec.md §4.8,
// the caller is responsible for ensuring msg carries no secret material.
func Fatal(msg string) {
	log.Fatal(msg)
}

// FatalF is the printf-style variant of Fatal.
func FatalF(format string, args ...any) {
	log.Fatalf(format, args...)
}
