// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" ERROR ", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "catalog", ConsoleWriter: &buf})
	defer logger.Close()

	logger.Info("catalog loaded", "programs", 3)

	out := buf.String()
	assert.Contains(t, out, "catalog loaded")
	assert.Contains(t, out, "programs=3")
	assert.Contains(t, out, "service=catalog")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, ConsoleWriter: &buf})
	defer logger.Close()

	logger.Debug("resolver detail")
	logger.Info("evaluation complete")
	logger.Warn("lookup degraded")
	logger.Error("catalog load failed")

	out := buf.String()
	assert.NotContains(t, out, "resolver detail")
	assert.NotContains(t, out, "evaluation complete")
	assert.Contains(t, out, "lookup degraded")
	assert.Contains(t, out, "catalog load failed")
}

func TestDefaultServiceName(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{ConsoleWriter: &buf})
	defer logger.Close()

	logger.Info("starting")
	assert.Contains(t, buf.String(), "service=incentivegrid")
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Service: "eligibility", LogDir: dir, ConsoleWriter: &buf})

	logger.Info("evaluation complete", "qualified", 2)
	require.NoError(t, logger.Close())

	name := "eligibility-" + time.Now().UTC().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.Equal(t, "evaluation complete", entry["msg"])
	assert.Equal(t, "eligibility", entry["service"])
	assert.Equal(t, 2.0, entry["qualified"])

	// Console output continues alongside the file.
	assert.Contains(t, buf.String(), "evaluation complete")
}

func TestFileLoggingBadDirDegrades(t *testing.T) {
	// A regular file where the directory should go makes setup fail.
	blocker := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: blocker, ConsoleWriter: &buf})
	defer logger.Close()

	logger.Info("still logging")

	out := buf.String()
	assert.Contains(t, out, "file output disabled")
	assert.Contains(t, out, "still logging")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{ConsoleWriter: &buf})
	defer logger.Close()

	logger.With("run_id", "run-42").Info("stacking complete")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-42")
	assert.Contains(t, out, "stacking complete")
}

func TestCloseWithoutFile(t *testing.T) {
	logger := New(Config{ConsoleWriter: &bytes.Buffer{}})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()
	assert.NotNil(t, logger.Slog())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".incentivegrid/logs"), expandHome("~/.incentivegrid/logs"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/var/log/incentivegrid", expandHome("/var/log/incentivegrid"))
	assert.Equal(t, "relative/logs", expandHome("relative/logs"))
}
