// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/incentivegrid/incentivegrid/services/eligibility"
	"github.com/incentivegrid/incentivegrid/services/eligibility/cache"
	"github.com/incentivegrid/incentivegrid/services/eligibility/catalog"
	"github.com/incentivegrid/incentivegrid/services/eligibility/lookup"
)

var (
	evaluateCmd = &cobra.Command{
		Use:   "evaluate [project file]",
		Short: "Evaluate one project against a program catalog",
		Long: `Reads a project description from a YAML file, evaluates it against the
catalog, and writes the full result (matches, values, stacking) as JSON
to stdout. Without --catalog the embedded starter catalog is used.`,
		Args: cobra.ExactArgs(1),
		RunE: runEvaluate,
	}

	evalCatalogDir  string
	evalLookupFile  string
	evalAsOf        string
	evalCacheDir    string
	evalMinScore    int
	evalMaxResults  int
	evalInactive    bool
	evalBreakdown   bool
	evalNoStacking  bool
	evalCompactJSON bool
)

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evalCatalogDir, "catalog", "", "Directory of catalog YAML files (embedded catalog when empty)")
	f.StringVar(&evalLookupFile, "lookup", "", "YAML file of geographic designations")
	f.StringVar(&evalAsOf, "as-of", "", "Evaluation date (YYYY-MM-DD or RFC 3339), default now")
	f.StringVar(&evalCacheDir, "cache-dir", "", "Directory for the result cache (disabled when empty)")
	f.IntVar(&evalMinScore, "min-score", 0, "Drop matches scoring below this (0-100)")
	f.IntVar(&evalMaxResults, "max-results", 0, "Truncate the ranked list (0 = unlimited)")
	f.BoolVar(&evalInactive, "include-inactive", false, "Evaluate inactive and out-of-window programs")
	f.BoolVar(&evalBreakdown, "breakdown", false, "Attach the full condition tree to each match")
	f.BoolVar(&evalNoStacking, "no-stacking", false, "Skip the stacking analysis")
	f.BoolVar(&evalCompactJSON, "compact", false, "Emit compact JSON instead of indented")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	logger := newLogger("cli")
	defer logger.Close()
	ctx := cmd.Context()

	project, err := loadProject(args[0])
	if err != nil {
		return err
	}

	cat := catalog.New(logger.Slog())
	if evalCatalogDir != "" {
		if err := cat.LoadDir(evalCatalogDir); err != nil {
			return fmt.Errorf("load catalog %s: %w", evalCatalogDir, err)
		}
	} else {
		if err := cat.LoadEmbedded(); err != nil {
			return fmt.Errorf("load embedded catalog: %w", err)
		}
	}

	var lk eligibility.DesignationLookup
	if evalLookupFile != "" {
		static, err := lookup.LoadStatic(evalLookupFile)
		if err != nil {
			return fmt.Errorf("load designations %s: %w", evalLookupFile, err)
		}
		lk = static
	}

	cfg, err := buildEngineConfig()
	if err != nil {
		return err
	}

	var store *cache.Cache
	if evalCacheDir != "" {
		store, err = cache.Open(cache.DefaultConfig(evalCacheDir))
		if err != nil {
			return fmt.Errorf("open result cache: %w", err)
		}
		defer store.Close()

		cached, err := store.Get(ctx, eligibility.SnapshotHash(project), cat.Version())
		if err == nil {
			logger.Debug("result cache hit", "snapshot", cached.SnapshotHash)
			return printOutput(cached)
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("result cache lookup failed", "error", err)
		}
	}

	engine := eligibility.NewEngine(lk, logger.Slog())
	out, err := engine.Evaluate(ctx, project, cat.Programs(), cfg)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	out.CatalogVersion = cat.Version()

	if store != nil {
		if err := store.Put(ctx, cat.Version(), out); err != nil {
			logger.Warn("result cache write failed", "error", err)
		}
	}

	return printOutput(out)
}

// loadProject reads and parses a project YAML file.
func loadProject(path string) (*eligibility.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	var project eligibility.Project
	if err := yaml.Unmarshal(raw, &project); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", path, err)
	}
	return &project, nil
}

// buildEngineConfig maps the evaluate flags onto an EngineConfig.
func buildEngineConfig() (eligibility.EngineConfig, error) {
	cfg := eligibility.DefaultEngineConfig()
	cfg.MinScore = evalMinScore
	cfg.MaxResults = evalMaxResults
	cfg.IncludeInactive = evalInactive
	cfg.IncludeBreakdown = evalBreakdown
	cfg.SkipStacking = evalNoStacking

	if evalAsOf != "" {
		at, err := parseDate(evalAsOf)
		if err != nil {
			return cfg, fmt.Errorf("parse --as-of: %w", err)
		}
		cfg.EvaluationDate = at
	}
	return cfg, nil
}

// parseDate accepts a bare date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if at, err := time.Parse("2006-01-02", s); err == nil {
		return at.UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}

func printOutput(out *eligibility.EligibilityOutput) error {
	enc := json.NewEncoder(os.Stdout)
	if !evalCompactJSON {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}
