// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides an embedded result cache for eligibility runs.
//
// Evaluation is deterministic for a given (project snapshot, catalog
// version) pair with a fixed evaluation date, so results are cached by
// content identity rather than by time: a cached entry stays valid until
// either the project data or the catalog changes, at which point its key
// simply stops being asked for. TTL is a disk-hygiene bound on stale keys,
// not a correctness mechanism.
//
// BadgerDB backs the cache (embedded, ~100µs access). InMemory mode is
// for tests.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/incentivegrid/incentivegrid/pkg/observability"
	"github.com/incentivegrid/incentivegrid/services/eligibility"
)

// ErrCacheMiss is returned by Get when no entry exists for the key.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "run:"

// Config holds configuration for a result cache instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// TTL bounds how long stale entries stay on disk. Entries are valid
	// for correctness indefinitely; this only caps disk growth from keys
	// that will never be asked for again. Default: 7 days. 0 disables
	// expiry.
	TTL time.Duration

	// Logger is the logger for cache and BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent storage with a
// 7-day hygiene TTL.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
		TTL:  7 * 24 * time.Hour,
	}
}

// InMemoryConfig returns configuration for tests: in-memory, no expiry.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache stores eligibility outputs keyed by project snapshot hash and
// catalog version.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open creates and opens a result cache with the given configuration.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Cache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, ttl: cfg.TTL, logger: logger}, nil
}

// Key derives the cache key for a (snapshot, catalog) pair. Both inputs
// are content hashes, so the key changes exactly when the answer could.
func Key(snapshotHash, catalogVersion string) []byte {
	return []byte(keyPrefix + snapshotHash + ":" + catalogVersion)
}

// Get returns the cached output for the key, or ErrCacheMiss.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	snapshotHash - Project snapshot hash (EligibilityOutput.SnapshotHash).
//	catalogVersion - Catalog content version.
//
// Outputs:
//
//	*eligibility.EligibilityOutput - The cached run output.
//	error - ErrCacheMiss if absent; other errors are storage failures.
func (c *Cache) Get(ctx context.Context, snapshotHash, catalogVersion string) (*eligibility.EligibilityOutput, error) {
	if err := ctx.Err(); err != nil {
		recordLookup(observability.CacheError)
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var out eligibility.EligibilityOutput
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(snapshotHash, catalogVersion))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrCacheMiss
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			recordLookup(observability.CacheMiss)
			return nil, ErrCacheMiss
		}
		recordLookup(observability.CacheError)
		return nil, fmt.Errorf("cache get: %w", err)
	}
	recordLookup(observability.CacheHit)
	return &out, nil
}

// recordLookup reports the lookup outcome when metrics are initialized.
func recordLookup(outcome observability.CacheOutcome) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCacheLookup(outcome)
	}
}

// Put stores a run output under its snapshot and catalog identity.
//
// Partial outputs are never cached: a timed-out run must be retried, not
// replayed.
func (c *Cache) Put(ctx context.Context, catalogVersion string, out *eligibility.EligibilityOutput) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if out == nil {
		return errors.New("output must not be nil")
	}
	if out.Partial {
		c.logger.Debug("skipping cache of partial run", "run_id", out.RunID)
		return nil
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cached output: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(Key(out.SnapshotHash, catalogVersion), raw)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate removes a single entry. Mostly useful in tests and admin
// tooling; normal operation relies on key identity instead.
func (c *Cache) Invalidate(ctx context.Context, snapshotHash, catalogVersion string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(Key(snapshotHash, catalogVersion))
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Close closes the underlying database. Safe to call once.
func (c *Cache) Close() error {
	return c.db.Close()
}
