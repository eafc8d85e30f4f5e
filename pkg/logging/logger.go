// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for IncentiveGrid services.
//
// It is a thin layer over log/slog: human-readable text on the console,
// plus an optional per-day JSON log file when a log directory is
// configured. Every record carries a "service" attribute so the CLI, the
// API server, and the catalog loader can share one log stream.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.incentivegrid/logs",
//	    Service: "eligibility",
//	})
//	defer logger.Close()
//
//	logger.Info("evaluation complete", "programs", 12, "qualified", 4)
//	logger.Error("catalog load failed", "dir", dir, "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is the minimum severity a record needs to be written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a Level. Unknown names mean LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls where and how much a Logger writes.
type Config struct {
	// Level is the minimum severity written. Default: LevelInfo.
	Level Level

	// LogDir enables a per-day JSON log file in the given directory.
	// A leading "~" expands to the user's home directory. Empty
	// disables file logging.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	// Default: "incentivegrid".
	Service string

	// ConsoleWriter receives the text log stream. Default: os.Stderr.
	// Overridden in tests to capture output.
	ConsoleWriter io.Writer
}

// Logger writes structured records to the console and, when configured,
// a JSON file. Safe for concurrent use. Close releases the file handle;
// the console stream stays usable afterwards.
type Logger struct {
	slogger *slog.Logger
	file    *os.File
}

// New builds a Logger from the config. File-logging setup failures are
// reported on the console and degrade to console-only logging rather
// than failing the caller.
func New(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "incentivegrid"
	}
	console := cfg.ConsoleWriter
	if console == nil {
		console = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	handlers := []slog.Handler{slog.NewTextHandler(console, opts)}

	var file *os.File
	if cfg.LogDir != "" {
		f, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fmt.Fprintf(console, "logging: file output disabled: %v\n", err)
		} else {
			file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = fanoutHandler(handlers)
	}

	return &Logger{
		slogger: slog.New(handler).With("service", cfg.Service),
		file:    file,
	}
}

// Default returns a console-only logger at LevelInfo.
func Default() *Logger {
	return New(Config{})
}

// openLogFile creates the log directory if needed and opens (appending)
// the current day's file, e.g. "eligibility-2025-06-01.log".
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.log", service, time.Now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// expandHome resolves a leading "~" against the current user's home
// directory. Paths without one pass through unchanged.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a Logger whose records all carry the given attributes.
// The derived logger shares the parent's outputs; close only the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// Slog exposes the underlying *slog.Logger for packages that take one
// directly (the engine, the catalog, badger's log adapter).
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// fanoutHandler duplicates each record to every wrapped handler.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, hh := range h {
		next[i] = hh.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, hh := range h {
		next[i] = hh.WithGroup(name)
	}
	return next
}
