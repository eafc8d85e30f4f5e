// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"context"
	"log/slog"
	"time"
)

// Field names addressable by conditions. Raw fields mirror the Project
// struct; derived fields are built by the Resolver.
const (
	FieldState        = "state"
	FieldCity         = "city"
	FieldCounty       = "county"
	FieldZipCode      = "zip_code"
	FieldCensusTract  = "census_tract"
	FieldBuildingType = "building_type"
	FieldProjectType  = "project_type"

	FieldTotalUnits      = "total_units"
	FieldAffordableUnits = "affordable_units"
	FieldSquareFeet      = "square_feet"
	FieldTotalDevCost    = "total_development_cost"
	FieldEligibleBasis   = "eligible_basis"

	FieldSolarCapacityKW    = "solar_capacity_kw"
	FieldEnergyReductionPct = "energy_reduction_pct"
	FieldCertifications     = "certifications"
	FieldPrevailingWage     = "prevailing_wage"
	FieldDomesticContent    = "domestic_content"

	FieldOwnerEntityType = "owner_entity_type"
	FieldTaxExempt       = "tax_exempt"

	FieldConstructionStart   = "construction_start"
	FieldPlacedInService     = "placed_in_service"
	FieldApplicationDeadline = "application_deadline"

	// Derived fields.
	FieldAffordabilityPct = "affordability_pct"
	FieldCostPerUnit      = "cost_per_unit"
	FieldCostPerSqFt      = "cost_per_sqft"
	FieldDaysToStart      = "days_to_construction_start"
	FieldDaysToDeadline   = "days_to_deadline"

	// Designation flags, resolved through the DesignationLookup.
	FieldEnergyCommunity    = "is_energy_community"
	FieldLowIncomeCommunity = "is_low_income_community"
	FieldDistressed         = "is_distressed"
)

// FieldValue is a tri-state field: a concrete value, or unknown.
//
// Unknown is not false and not zero. A ratio with a missing denominator, a
// failed designation lookup, or an absent attribute all resolve to unknown,
// and the evaluator degrades per the unknown-value policy instead of
// treating the field as empty.
type FieldValue struct {
	Value any
	Known bool
}

// KnownValue wraps a concrete value.
func KnownValue(v any) FieldValue { return FieldValue{Value: v, Known: true} }

// UnknownValue is the unknown marker.
func UnknownValue() FieldValue { return FieldValue{} }

// Number coerces the value to float64. The second return is false for
// unknown or non-numeric values.
func (f FieldValue) Number() (float64, bool) {
	if !f.Known {
		return 0, false
	}
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool returns the boolean value; false second return for unknown or
// non-boolean values.
func (f FieldValue) Bool() (bool, bool) {
	if !f.Known {
		return false, false
	}
	b, ok := f.Value.(bool)
	return b, ok
}

// Text returns the string value; false second return for unknown or
// non-string values.
func (f FieldValue) Text() (string, bool) {
	if !f.Known {
		return "", false
	}
	s, ok := f.Value.(string)
	return s, ok
}

// Time returns the time value; false second return for unknown or
// non-time values.
func (f FieldValue) Time() (time.Time, bool) {
	if !f.Known {
		return time.Time{}, false
	}
	t, ok := f.Value.(time.Time)
	return t, ok
}

// Strings returns the value as a string slice; false second return for
// unknown or incompatible values.
func (f FieldValue) Strings() ([]string, bool) {
	if !f.Known {
		return nil, false
	}
	switch v := f.Value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// ComputedFields is the read-only derived field map for one evaluation.
// Built once by the Resolver, never mutated mid-evaluation.
type ComputedFields map[string]FieldValue

// Get returns the named field. Absent fields are unknown, not zero.
func (c ComputedFields) Get(name string) FieldValue {
	if v, ok := c[name]; ok {
		return v
	}
	return UnknownValue()
}

// Designations are the geographic designation flags for one location.
type Designations struct {
	EnergyCommunity    bool `json:"is_energy_community"`
	LowIncomeCommunity bool `json:"is_low_income_community"`
	Distressed         bool `json:"is_distressed"`
}

// DesignationLookup resolves geographic designation flags for a location
// key (census tract preferred, ZIP code fallback).
//
// Implementations must return ErrLookupUnavailable (possibly wrapped) when
// the backing source cannot answer; the resolver then marks the flags
// unknown rather than false.
type DesignationLookup interface {
	Resolve(ctx context.Context, geoKey string) (Designations, error)
}

// Resolver derives secondary attributes from a project snapshot plus
// external lookups. Pure except for the lookup call.
type Resolver struct {
	lookup DesignationLookup
	logger *slog.Logger
}

// NewResolver creates a resolver. lookup may be nil, in which case all
// designation flags resolve to unknown. A nil logger falls back to
// slog.Default().
func NewResolver(lookup DesignationLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve builds the ComputedFields map for one evaluation.
//
// Description:
//
//	Copies the raw project attributes, derives the ratio and date-delta
//	fields with division-by-zero and missing-milestone guards, resolves
//	the designation flags through the injected lookup, and finally lays
//	caller-supplied overrides on top. Overrides always win.
//
// Inputs:
//
//	ctx - Context for the lookup call.
//	project - The immutable project snapshot. Must not be nil.
//	at - The evaluation date (already resolved from EngineConfig).
//	overrides - Optional extra fields from EngineConfig.Context. May be nil.
//
// Outputs:
//
//	ComputedFields - The derived field map. Never nil.
func (r *Resolver) Resolve(ctx context.Context, project *Project, at time.Time, overrides map[string]any) ComputedFields {
	fields := make(ComputedFields, 32)

	putText := func(name, v string) {
		if v == "" {
			fields[name] = UnknownValue()
			return
		}
		fields[name] = KnownValue(v)
	}

	putText(FieldState, project.State)
	putText(FieldCity, project.City)
	putText(FieldCounty, project.County)
	putText(FieldZipCode, project.ZipCode)
	putText(FieldCensusTract, project.CensusTract)
	putText(FieldBuildingType, project.BuildingType)
	putText(FieldProjectType, project.ProjectType)
	putText(FieldOwnerEntityType, project.OwnerEntityType)

	fields[FieldTotalUnits] = KnownValue(project.TotalUnits)
	fields[FieldAffordableUnits] = KnownValue(project.AffordableUnits)
	fields[FieldSquareFeet] = KnownValue(project.SquareFeet)
	fields[FieldTotalDevCost] = KnownValue(project.TotalDevelopmentCost)
	fields[FieldEligibleBasis] = KnownValue(project.EligibleBasis)
	fields[FieldSolarCapacityKW] = KnownValue(project.SolarCapacityKW)
	fields[FieldEnergyReductionPct] = KnownValue(project.EnergyReductionPct)
	fields[FieldPrevailingWage] = KnownValue(project.PrevailingWage)
	fields[FieldDomesticContent] = KnownValue(project.DomesticContent)
	fields[FieldTaxExempt] = KnownValue(project.TaxExempt)

	if len(project.Certifications) > 0 {
		fields[FieldCertifications] = KnownValue(project.Certifications)
	} else {
		fields[FieldCertifications] = UnknownValue()
	}

	putDate := func(name string, t *time.Time) {
		if t == nil {
			fields[name] = UnknownValue()
			return
		}
		fields[name] = KnownValue(*t)
	}
	putDate(FieldConstructionStart, project.ConstructionStart)
	putDate(FieldPlacedInService, project.PlacedInService)
	putDate(FieldApplicationDeadline, project.ApplicationDeadline)

	// Ratios. A zero or missing denominator resolves to unknown, not zero.
	if project.TotalUnits > 0 {
		fields[FieldAffordabilityPct] = KnownValue(float64(project.AffordableUnits) / float64(project.TotalUnits) * 100)
		if project.TotalDevelopmentCost > 0 {
			fields[FieldCostPerUnit] = KnownValue(project.TotalDevelopmentCost / float64(project.TotalUnits))
		} else {
			fields[FieldCostPerUnit] = UnknownValue()
		}
	} else {
		fields[FieldAffordabilityPct] = UnknownValue()
		fields[FieldCostPerUnit] = UnknownValue()
	}
	if project.SquareFeet > 0 && project.TotalDevelopmentCost > 0 {
		fields[FieldCostPerSqFt] = KnownValue(project.TotalDevelopmentCost / project.SquareFeet)
	} else {
		fields[FieldCostPerSqFt] = UnknownValue()
	}

	// Date deltas, in whole days relative to the evaluation date.
	putDays := func(name string, t *time.Time) {
		if t == nil {
			fields[name] = UnknownValue()
			return
		}
		fields[name] = KnownValue(t.Sub(at).Hours() / 24)
	}
	putDays(FieldDaysToStart, project.ConstructionStart)
	putDays(FieldDaysToDeadline, project.ApplicationDeadline)

	r.resolveDesignations(ctx, project, fields)

	// Free-form attributes under their raw names, then caller overrides.
	for k, v := range project.Attributes {
		fields[k] = KnownValue(v)
	}
	for k, v := range overrides {
		fields[k] = KnownValue(v)
	}

	return fields
}

// resolveDesignations fills the designation flags, degrading to unknown
// when no lookup is configured or the lookup fails.
func (r *Resolver) resolveDesignations(ctx context.Context, project *Project, fields ComputedFields) {
	unknown := func() {
		fields[FieldEnergyCommunity] = UnknownValue()
		fields[FieldLowIncomeCommunity] = UnknownValue()
		fields[FieldDistressed] = UnknownValue()
	}

	if r.lookup == nil {
		unknown()
		return
	}

	geoKey := project.CensusTract
	if geoKey == "" {
		geoKey = project.ZipCode
	}
	if geoKey == "" {
		unknown()
		return
	}

	des, err := r.lookup.Resolve(ctx, geoKey)
	if err != nil {
		r.logger.Warn("designation lookup failed, flags unknown",
			"geo_key", geoKey,
			"error", err.Error(),
		)
		unknown()
		return
	}

	fields[FieldEnergyCommunity] = KnownValue(des.EnergyCommunity)
	fields[FieldLowIncomeCommunity] = KnownValue(des.LowIncomeCommunity)
	fields[FieldDistressed] = KnownValue(des.Distressed)
}
