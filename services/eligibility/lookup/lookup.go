// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lookup provides DesignationLookup implementations.
//
// Designation data (energy communities, low-income census tracts,
// distressed areas) lives outside the engine: in practice it is a
// published dataset or a mapping service. Two implementations are
// provided:
//
//   - Static: a YAML table loaded at startup. Deterministic, no I/O at
//     evaluation time. The right choice for batch runs and tests.
//   - HTTP: a remote mapping service, rate limited. Failures surface as
//     ErrLookupUnavailable so the resolver degrades the flags to unknown
//     instead of silently reporting false.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/incentivegrid/incentivegrid/pkg/validation"
	"github.com/incentivegrid/incentivegrid/services/eligibility"
)

// =============================================================================
// Static lookup
// =============================================================================

// staticEntry is one row of the static designation table.
type staticEntry struct {
	EnergyCommunity    bool `yaml:"energy_community"`
	LowIncomeCommunity bool `yaml:"low_income_community"`
	Distressed         bool `yaml:"distressed"`
}

// staticFile is the YAML shape of a designation table: geo key (census
// tract or ZIP code) to flags. Keys absent from the table resolve to
// all-false, which is the correct reading of a complete published list.
type staticFile struct {
	Designations map[string]staticEntry `yaml:"designations"`
}

// Static resolves designations from an in-memory table.
//
// Thread Safety: read-only after construction, safe for concurrent use.
type Static struct {
	entries map[string]staticEntry
}

// NewStatic builds a static lookup from an already-parsed table.
func NewStatic(entries map[string]eligibility.Designations) *Static {
	m := make(map[string]staticEntry, len(entries))
	for k, d := range entries {
		m[k] = staticEntry{
			EnergyCommunity:    d.EnergyCommunity,
			LowIncomeCommunity: d.LowIncomeCommunity,
			Distressed:         d.Distressed,
		}
	}
	return &Static{entries: m}
}

// LoadStatic reads a designation table from a YAML file.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read designation table: %w", err)
	}
	var file staticFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse designation table %s: %w", path, err)
	}
	return &Static{entries: file.Designations}, nil
}

// Resolve implements eligibility.DesignationLookup. A key missing from
// the table returns all-false flags, not an error: the table is assumed
// complete for the jurisdictions it covers.
func (s *Static) Resolve(_ context.Context, geoKey string) (eligibility.Designations, error) {
	e := s.entries[geoKey]
	return eligibility.Designations{
		EnergyCommunity:    e.EnergyCommunity,
		LowIncomeCommunity: e.LowIncomeCommunity,
		Distressed:         e.Distressed,
	}, nil
}

// =============================================================================
// HTTP lookup
// =============================================================================

// HTTPConfig configures the remote designation client.
type HTTPConfig struct {
	// BaseURL of the mapping service, e.g. "https://geo.example.com".
	// The client GETs {BaseURL}/v1/designations/{geoKey}.
	BaseURL string

	// Timeout per request. Default: 5 seconds.
	Timeout time.Duration

	// RequestsPerSecond rate limits outbound calls. Default: 10.
	RequestsPerSecond float64

	// Burst allowance for the rate limiter. Default: 5.
	Burst int
}

// HTTP resolves designations from a remote mapping service with a small
// in-process cache. Every failure mode (rate limit wait cancelled,
// transport error, non-200, bad body) wraps ErrLookupUnavailable.
//
// Thread Safety: safe for concurrent use.
type HTTP struct {
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.RWMutex
	cache map[string]eligibility.Designations
}

// NewHTTP creates a rate-limited remote lookup client.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid lookup base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &HTTP{
		baseURL: base,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:   make(map[string]eligibility.Designations),
	}, nil
}

// Resolve implements eligibility.DesignationLookup.
func (h *HTTP) Resolve(ctx context.Context, geoKey string) (eligibility.Designations, error) {
	geoKey, err := validation.SanitizeGeoKey(geoKey)
	if err != nil {
		return eligibility.Designations{}, fmt.Errorf("%w: %v",
			eligibility.ErrLookupUnavailable, err)
	}

	h.mu.RLock()
	if d, ok := h.cache[geoKey]; ok {
		h.mu.RUnlock()
		return d, nil
	}
	h.mu.RUnlock()

	if err := h.limiter.Wait(ctx); err != nil {
		return eligibility.Designations{}, fmt.Errorf("%w: rate limit wait: %v",
			eligibility.ErrLookupUnavailable, err)
	}

	u := h.baseURL.JoinPath("v1", "designations", geoKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return eligibility.Designations{}, fmt.Errorf("%w: build request: %v",
			eligibility.ErrLookupUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return eligibility.Designations{}, fmt.Errorf("%w: %v",
			eligibility.ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return eligibility.Designations{}, fmt.Errorf("%w: status %d for %s",
			eligibility.ErrLookupUnavailable, resp.StatusCode, geoKey)
	}

	var d eligibility.Designations
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return eligibility.Designations{}, fmt.Errorf("%w: decode response: %v",
			eligibility.ErrLookupUnavailable, err)
	}

	h.mu.Lock()
	h.cache[geoKey] = d
	h.mu.Unlock()
	return d, nil
}
