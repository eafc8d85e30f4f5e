// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command incentivegrid runs the eligibility matching engine.
//
// IncentiveGrid matches development projects against a catalog of
// incentive programs, scores each match, estimates dollar values, and
// recommends a compatible stack of programs.
//
// Usage:
//
//	# One-shot evaluation against the embedded starter catalog
//	incentivegrid evaluate project.yaml
//
//	# Evaluate against a catalog directory, pinned to a date
//	incentivegrid evaluate project.yaml --catalog ./programs --as-of 2025-06-01
//
//	# Run the HTTP API
//	incentivegrid serve --catalog ./programs --port 8080
//
// Example requests once serving:
//
//	curl http://localhost:8080/health
//	curl -X POST http://localhost:8080/v1/evaluate \
//	  -H "Content-Type: application/json" \
//	  -d '{"project": {"id": "p-1", "state": "NY", "total_units": 120}}'
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/incentivegrid/incentivegrid/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "incentivegrid",
		Short: "Eligibility matching and value calculation for incentive programs",
		Long: `IncentiveGrid evaluates development projects against incentive program
catalogs: eligibility conditions, match scores, estimated dollar values,
and stacking recommendations.`,
		SilenceUsage: true,
	}

	logLevel string
	logDir   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log files (disabled when empty)")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the process logger from the persistent flags.
func newLogger(service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: service,
	})
}
