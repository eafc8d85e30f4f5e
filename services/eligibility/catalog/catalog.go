// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog loads and versions the incentive program rule catalog.
//
// Programs and their rule versions are authored as YAML files. The catalog
// keeps an immutable in-memory snapshot plus a content-addressed version
// hash; callers key result caches on (project snapshot hash, catalog
// version), so a rule change rather than elapsed time is what invalidates
// a cached evaluation. An optional fsnotify watcher reloads the snapshot
// and bumps the version when a catalog file changes on disk.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/incentivegrid/incentivegrid/pkg/validation"
	"github.com/incentivegrid/incentivegrid/services/eligibility"
	"github.com/incentivegrid/incentivegrid/services/eligibility/formula"
)

// File is the top-level structure of one catalog YAML file.
type File struct {
	Programs []eligibility.IncentiveProgram `yaml:"programs"`
}

// Catalog is a versioned, reload-safe program catalog. It implements
// eligibility.ProgramSource.
//
// Thread Safety: safe for concurrent use; Programs returns the current
// immutable snapshot and reloads swap it atomically under the lock.
type Catalog struct {
	mu       sync.RWMutex
	programs []eligibility.IncentiveProgram
	version  string

	dir    string
	logger *slog.Logger
}

// New creates an empty catalog. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{logger: logger}
}

// LoadEmbedded fills the catalog from the starter programs baked into the
// binary. Useful for the CLI out of the box and for tests.
func (c *Catalog) LoadEmbedded() error {
	return c.replace(map[string][]byte{"embedded": DefaultPrograms})
}

// LoadDir fills the catalog from every .yaml/.yml file in dir,
// lexicographic order. The whole load is rejected on the first malformed
// file so a bad edit never half-applies.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read catalog dir: %w", err)
	}
	sources := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || !isCatalogFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read catalog file %s: %w", path, err)
		}
		sources[entry.Name()] = raw
	}
	if len(sources) == 0 {
		return fmt.Errorf("no catalog files in %s", dir)
	}
	if err := c.replace(sources); err != nil {
		return err
	}
	c.mu.Lock()
	c.dir = dir
	c.mu.Unlock()
	return nil
}

func isCatalogFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// replace parses, validates, and atomically swaps the snapshot. The
// version hash covers the raw bytes of every source in name order.
func (c *Catalog) replace(sources map[string][]byte) error {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	hash := sha256.New()
	var programs []eligibility.IncentiveProgram
	seen := make(map[string]string)
	for _, name := range names {
		raw := sources[name]
		hash.Write([]byte(name))
		hash.Write(raw)

		var file File
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse catalog file %s: %w", name, err)
		}
		for i := range file.Programs {
			p := &file.Programs[i]
			if err := validateProgram(p); err != nil {
				return fmt.Errorf("catalog file %s: %w", name, err)
			}
			if prev, dup := seen[p.ID]; dup {
				return fmt.Errorf("catalog file %s: duplicate program id %s (also in %s)", name, p.ID, prev)
			}
			seen[p.ID] = name
		}
		programs = append(programs, file.Programs...)
	}

	c.mu.Lock()
	c.programs = programs
	c.version = hex.EncodeToString(hash.Sum(nil))
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		"files", len(sources),
		"programs", len(programs),
		"version", c.Version()[:12],
	)
	return nil
}

// validateProgram rejects catalog entries that would only fail later,
// mid-evaluation: missing ids, programs without rules, and custom or
// formula expressions that do not compile.
func validateProgram(p *eligibility.IncentiveProgram) error {
	if p.ID == "" {
		return fmt.Errorf("program without id (name %q)", p.Name)
	}
	if err := validation.ValidateProgramID(p.ID); err != nil {
		return fmt.Errorf("program %s: %w", p.ID, err)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("program %s has no rules", p.ID)
	}
	for i := range p.Rules {
		rule := &p.Rules[i]
		if err := validateCondition(&rule.Condition); err != nil {
			return fmt.Errorf("program %s rule %s: %w", p.ID, rule.ID, err)
		}
		for j := range rule.Bonuses {
			if err := validateCondition(&rule.Bonuses[j].Condition); err != nil {
				return fmt.Errorf("program %s bonus %s: %w", p.ID, rule.Bonuses[j].ID, err)
			}
		}
		if rule.Value.Method == eligibility.MethodFormula {
			if _, err := formula.Compile(rule.Value.Formula); err != nil {
				return fmt.Errorf("program %s rule %s: %w", p.ID, rule.ID, err)
			}
		}
	}
	return nil
}

func validateCondition(cond *eligibility.RuleCondition) error {
	if cond.Weight < 0 || cond.Weight > 1 {
		return fmt.Errorf("condition %s: weight %v outside [0,1]", cond.Label, cond.Weight)
	}
	if cond.Type == eligibility.ConditionCustom {
		if _, err := formula.Compile(cond.Expression); err != nil {
			return err
		}
	}
	for i := range cond.Children {
		if err := validateCondition(&cond.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// Programs returns the current snapshot. The returned slice must be
// treated as read-only.
func (c *Catalog) Programs() []eligibility.IncentiveProgram {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.programs
}

// Version returns the content hash of the loaded catalog.
func (c *Catalog) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Watch reloads the catalog whenever a file in the loaded directory
// changes, until ctx is done. Reload failures keep the previous snapshot
// and log a warning; a bad edit never takes down a running service.
//
// Watch returns immediately with an error if the catalog was not loaded
// from a directory.
func (c *Catalog) Watch(ctx context.Context) error {
	c.mu.RLock()
	dir := c.dir
	c.mu.RUnlock()
	if dir == "" {
		return fmt.Errorf("catalog was not loaded from a directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isCatalogFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.LoadDir(dir); err != nil {
					c.logger.Warn("catalog reload failed, keeping previous snapshot",
						"file", event.Name,
						"error", err.Error(),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("catalog watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}
