// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for identifiers that end up in storage
// keys, URL paths, or log output. Using these validators prevents injection
// attacks (path traversal, key collisions, log forgery).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// programIDPattern matches valid program and rule identifiers.
// Allows: lowercase letters, digits, hyphens, underscores
// Max length: 64 characters
var programIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// geoKeyPattern matches valid geographic lookup keys.
// Keys are pipe-joined location parts, e.g. "NY|Kings|36047".
// Each part allows letters, digits, spaces, dots, and hyphens.
var geoKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 .\-]*(\|[A-Za-z0-9][A-Za-z0-9 .\-]*)*$`)

// ValidateProgramID validates a program or rule identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - Lowercase letters a-z and digits 0-9
//   - Hyphens and underscores after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateProgramID(p.ID); err != nil {
//	    return fmt.Errorf("invalid program id: %w", err)
//	}
//	// Safe to use as a storage key
func ValidateProgramID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !programIDPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier: %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", id)
	}

	return nil
}

// ValidateGeoKey validates a geographic lookup key before it is used in
// a URL path or cache key.
//
// Returns an error if the key is empty or contains path metacharacters.
func ValidateGeoKey(key string) error {
	if key == "" {
		return fmt.Errorf("geo key cannot be empty")
	}

	if !geoKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid geo key: %q", key)
	}

	return nil
}

// SanitizeGeoKey normalizes and validates a geographic lookup key.
// Returns the trimmed key if valid, or an error if invalid.
//
// Use this when the key is assembled from user-provided location fields:
//
//	safeKey, err := validation.SanitizeGeoKey(rawKey)
//	if err != nil {
//	    return err
//	}
//	// safeKey is validated and safe in a URL path
func SanitizeGeoKey(key string) (string, error) {
	normalized := strings.TrimSpace(key)
	if err := ValidateGeoKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
