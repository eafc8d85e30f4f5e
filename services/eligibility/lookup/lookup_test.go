// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incentivegrid/incentivegrid/services/eligibility"
)

func TestStaticResolve(t *testing.T) {
	s := NewStatic(map[string]eligibility.Designations{
		"36061021800": {EnergyCommunity: true, LowIncomeCommunity: true},
	})

	d, err := s.Resolve(context.Background(), "36061021800")
	require.NoError(t, err)
	assert.True(t, d.EnergyCommunity)
	assert.True(t, d.LowIncomeCommunity)
	assert.False(t, d.Distressed)

	// Absent keys are all-false, not an error.
	d, err = s.Resolve(context.Background(), "00000000000")
	require.NoError(t, err)
	assert.Equal(t, eligibility.Designations{}, d)
}

func TestLoadStatic(t *testing.T) {
	table := `designations:
  "10001":
    energy_community: true
    distressed: true
  "36061021800":
    low_income_community: true
`
	path := filepath.Join(t.TempDir(), "designations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(table), 0o644))

	s, err := LoadStatic(path)
	require.NoError(t, err)

	d, err := s.Resolve(context.Background(), "10001")
	require.NoError(t, err)
	assert.True(t, d.EnergyCommunity)
	assert.True(t, d.Distressed)
	assert.False(t, d.LowIncomeCommunity)
}

func TestLoadStaticMissingFile(t *testing.T) {
	_, err := LoadStatic(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestHTTPResolve(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/designations/36061021800", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_energy_community": true, "is_low_income_community": false, "is_distressed": false}`))
	}))
	defer server.Close()

	h, err := NewHTTP(HTTPConfig{BaseURL: server.URL})
	require.NoError(t, err)

	d, err := h.Resolve(context.Background(), "36061021800")
	require.NoError(t, err)
	assert.True(t, d.EnergyCommunity)

	// Second hit is served from the in-process cache.
	_, err = h.Resolve(context.Background(), "36061021800")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPResolveServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	h, err := NewHTTP(HTTPConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = h.Resolve(context.Background(), "36061021800")
	assert.ErrorIs(t, err, eligibility.ErrLookupUnavailable)
}

func TestHTTPResolveUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	h, err := NewHTTP(HTTPConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = h.Resolve(context.Background(), "36061021800")
	assert.ErrorIs(t, err, eligibility.ErrLookupUnavailable)
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}
