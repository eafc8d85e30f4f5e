// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLookup is a DesignationLookup backed by a fixed table, with an
// optional injected error.
type fakeLookup struct {
	table map[string]Designations
	err   error
}

func (f *fakeLookup) Resolve(_ context.Context, geoKey string) (Designations, error) {
	if f.err != nil {
		return Designations{}, f.err
	}
	return f.table[geoKey], nil
}

func testProject() *Project {
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	deadline := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	return &Project{
		ID:                   "proj-001",
		Name:                 "Harborview Apartments",
		City:                 "New York",
		County:               "Kings",
		State:                "NY",
		ZipCode:              "11201",
		CensusTract:          "36047000100",
		BuildingType:         "multifamily",
		TotalUnits:           120,
		AffordableUnits:      36,
		SquareFeet:           95000,
		TotalDevelopmentCost: 42000000,
		EligibleBasis:        5000000,
		SolarCapacityKW:      250,
		EnergyReductionPct:   22,
		Certifications:       []string{"LEED Gold", "ENERGY STAR"},
		PrevailingWage:       true,
		DomesticContent:      true,
		ConstructionStart:    &start,
		ApplicationDeadline:  &deadline,
		Attributes:           map[string]any{"union_labor": true},
	}
}

func TestResolveDerivedRatios(t *testing.T) {
	r := NewResolver(nil, discardLogger())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fields := r.Resolve(context.Background(), testProject(), at, nil)

	pct, ok := fields.Get(FieldAffordabilityPct).Number()
	require.True(t, ok)
	assert.InDelta(t, 30.0, pct, 1e-9)

	perUnit, ok := fields.Get(FieldCostPerUnit).Number()
	require.True(t, ok)
	assert.InDelta(t, 350000.0, perUnit, 1e-9)

	perSqFt, ok := fields.Get(FieldCostPerSqFt).Number()
	require.True(t, ok)
	assert.InDelta(t, 42000000.0/95000.0, perSqFt, 1e-9)
}

func TestResolveZeroDenominatorIsUnknown(t *testing.T) {
	p := testProject()
	p.TotalUnits = 0
	p.SquareFeet = 0

	r := NewResolver(nil, discardLogger())
	fields := r.Resolve(context.Background(), p, time.Now().UTC(), nil)

	// Unknown, not zero: a missing denominator must not read as a 0% ratio.
	assert.False(t, fields.Get(FieldAffordabilityPct).Known)
	assert.False(t, fields.Get(FieldCostPerUnit).Known)
	assert.False(t, fields.Get(FieldCostPerSqFt).Known)
}

func TestResolveDateDeltas(t *testing.T) {
	r := NewResolver(nil, discardLogger())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fields := r.Resolve(context.Background(), testProject(), at, nil)

	days, ok := fields.Get(FieldDaysToStart).Number()
	require.True(t, ok)
	assert.InDelta(t, 92.0, days, 1e-9)

	p := testProject()
	p.ConstructionStart = nil
	fields = r.Resolve(context.Background(), p, at, nil)
	assert.False(t, fields.Get(FieldDaysToStart).Known)
}

func TestResolveDesignations(t *testing.T) {
	lookup := &fakeLookup{table: map[string]Designations{
		"36047000100": {EnergyCommunity: true, LowIncomeCommunity: true},
	}}
	r := NewResolver(lookup, discardLogger())
	fields := r.Resolve(context.Background(), testProject(), time.Now().UTC(), nil)

	flag, ok := fields.Get(FieldEnergyCommunity).Bool()
	require.True(t, ok)
	assert.True(t, flag)

	flag, ok = fields.Get(FieldDistressed).Bool()
	require.True(t, ok)
	assert.False(t, flag)
}

func TestResolveDesignationsDegradeToUnknown(t *testing.T) {
	tests := []struct {
		name   string
		lookup DesignationLookup
	}{
		{name: "no lookup configured", lookup: nil},
		{name: "lookup unavailable", lookup: &fakeLookup{err: errors.Join(ErrLookupUnavailable, errors.New("dial timeout"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.lookup, discardLogger())
			fields := r.Resolve(context.Background(), testProject(), time.Now().UTC(), nil)

			// A failed lookup is unknown, never false.
			assert.False(t, fields.Get(FieldEnergyCommunity).Known)
			assert.False(t, fields.Get(FieldLowIncomeCommunity).Known)
			assert.False(t, fields.Get(FieldDistressed).Known)
		})
	}
}

func TestResolveAttributesAndOverrides(t *testing.T) {
	r := NewResolver(nil, discardLogger())
	overrides := map[string]any{
		"union_labor":      false,
		"is_opportunity_z": true,
	}
	fields := r.Resolve(context.Background(), testProject(), time.Now().UTC(), overrides)

	// Overrides win over project attributes.
	b, ok := fields.Get("union_labor").Bool()
	require.True(t, ok)
	assert.False(t, b)

	b, ok = fields.Get("is_opportunity_z").Bool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestComputedFieldsGetAbsentIsUnknown(t *testing.T) {
	fields := ComputedFields{}
	assert.False(t, fields.Get("no_such_field").Known)
}
