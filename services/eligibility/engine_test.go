// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalDate() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

// testPrograms builds a small catalog: a percentage program with a bonus,
// a per-unit program denied against it, and one with a failing required
// condition.
func testPrograms() []IncentiveProgram {
	geoNY := RuleCondition{Type: ConditionGeographic, States: []string{"NY"}, Weight: 0.5, Required: true}
	units := RuleCondition{Type: ConditionComparison, Field: FieldTotalUnits, Operator: OpGte, Value: 50, Weight: 0.5}

	return []IncentiveProgram{
		{
			ID: "big-credit", Name: "Big Credit", Category: CategoryTaxCredit,
			Jurisdiction: JurisdictionFederal, Active: true,
			Rules: []EligibilityRule{{
				ID: "big-credit-v1", Version: 1, Priority: 1, Active: true,
				Condition: RuleCondition{Type: ConditionComposite, Op: CompositeAnd, Weight: 1.0,
					Children: []RuleCondition{geoNY, units}},
				Value: ValueCalculation{Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30},
				Stacking: []StackingRule{
					{ID: "no-stack", ProgramA: "big-credit", ProgramB: "small-rebate", Effect: StackDeny},
				},
			}},
		},
		{
			ID: "small-rebate", Name: "Small Rebate", Category: CategoryRebate,
			Jurisdiction: JurisdictionState, Active: true,
			Rules: []EligibilityRule{{
				ID: "small-rebate-v1", Version: 1, Priority: 1, Active: true,
				Condition: RuleCondition{Type: ConditionComposite, Op: CompositeAnd, Weight: 1.0,
					Children: []RuleCondition{geoNY, units}},
				Value: ValueCalculation{Method: MethodPerUnit, Rate: 500},
			}},
		},
		{
			ID: "strict-grant", Name: "Strict Grant", Category: CategoryGrant,
			Jurisdiction: JurisdictionState, Active: true,
			Rules: []EligibilityRule{{
				ID: "strict-grant-v1", Version: 1, Priority: 1, Active: true,
				Condition: RuleCondition{
					Type: ConditionAffordability, Field: FieldAffordabilityPct,
					Operator: OpGte, Value: 90, Weight: 1.0, Required: true,
				},
				Value: ValueCalculation{Method: MethodFixed, BaseAmount: 75000},
			}},
		},
	}
}

func newTestEngine() *Engine {
	return NewEngine(nil, discardLogger())
}

func TestEvaluateEndToEnd(t *testing.T) {
	out, err := newTestEngine().Evaluate(context.Background(), testProject(), testPrograms(),
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)

	require.Len(t, out.Matches, 3)
	assert.Equal(t, 3, out.Summary.TotalPrograms)
	assert.Equal(t, 3, out.Summary.Evaluated)
	assert.Equal(t, 2, out.Summary.Qualified)
	assert.False(t, out.Partial)
	assert.NotEmpty(t, out.SnapshotHash)
	assert.Equal(t, EngineVersion, out.EngineVersion)

	// Ranked by score descending, id ascending on ties.
	assert.Equal(t, "big-credit", out.Matches[0].ProgramID)
	assert.Equal(t, "small-rebate", out.Matches[1].ProgramID)
	assert.Equal(t, "strict-grant", out.Matches[2].ProgramID)

	// The failing required condition disqualifies and lands in explore.
	strict := out.Matches[2]
	assert.False(t, strict.Qualified)
	assert.Equal(t, TierExplore, strict.Tier)
	assert.NotEmpty(t, strict.Disqualifiers)

	// Values: 30% of 5M, and 500 per unit on 120 units.
	assert.InDelta(t, 1500000, out.Matches[0].EstimatedValue(), 1e-9)
	assert.InDelta(t, 60000, out.Matches[1].EstimatedValue(), 1e-9)

	// The deny edge keeps only the larger program in the stack.
	require.NotNil(t, out.Stacking)
	assert.Equal(t, []string{"big-credit"}, out.Stacking.Recommended)
	assert.InDelta(t, 1500000, out.Summary.OptimizedStackValue, 1e-9)
}

func TestEvaluateDeterministicOutput(t *testing.T) {
	engine := newTestEngine()
	cfg := EngineConfig{EvaluationDate: evalDate(), IncludeBreakdown: true}

	a, err := engine.Evaluate(context.Background(), testProject(), testPrograms(), cfg)
	require.NoError(t, err)
	b, err := engine.Evaluate(context.Background(), testProject(), testPrograms(), cfg)
	require.NoError(t, err)

	// Same snapshot, catalog, and date: byte-identical output regardless
	// of worker scheduling, once the two wall-clock fields are zeroed.
	a.EvaluatedAt, b.EvaluatedAt = time.Time{}, time.Time{}
	a.DurationMS, b.DurationMS = 0, 0

	rawA, err := json.Marshal(a)
	require.NoError(t, err)
	rawB, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(rawA), string(rawB))
}

func TestEvaluateInvalidProject(t *testing.T) {
	p := testProject()
	p.State = "New York" // must be a 2-letter code

	_, err := newTestEngine().Evaluate(context.Background(), p, testPrograms(), EngineConfig{})
	assert.ErrorIs(t, err, ErrInvalidProject)
}

func TestEvaluateSkipsInactivePrograms(t *testing.T) {
	programs := testPrograms()
	programs[0].Active = false

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 2)

	out, err = newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate(), IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 3)
}

func TestEvaluateWindowExcludesPrograms(t *testing.T) {
	programs := testPrograms()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	programs[0].WindowEnd = &end

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 2)
}

func TestEvaluateMinScoreAndMaxResults(t *testing.T) {
	out, err := newTestEngine().Evaluate(context.Background(), testProject(), testPrograms(),
		EngineConfig{EvaluationDate: evalDate(), MinScore: 90})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 2)
	// Evaluated counts pre-filter.
	assert.Equal(t, 3, out.Summary.Evaluated)

	out, err = newTestEngine().Evaluate(context.Background(), testProject(), testPrograms(),
		EngineConfig{EvaluationDate: evalDate(), MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 1)
	// Stacking still sees every qualified program, not just the returned page.
	require.NotNil(t, out.Stacking)
	assert.NotEmpty(t, out.Stacking.Conflicts)

	// The summary spans the full evaluation too, so the optimized stack
	// can never exceed the total potential when the list is truncated.
	assert.Equal(t, 2, out.Summary.Qualified)
	assert.InDelta(t, 1560000.0, out.Summary.TotalPotentialValue, 0.01)
	assert.GreaterOrEqual(t, out.Summary.TotalPotentialValue, out.Summary.OptimizedStackValue)
}

func TestEvaluateNoActiveRuleDisqualifies(t *testing.T) {
	programs := testPrograms()
	programs[2].Rules[0].Active = false

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)

	var strict *MatchResult
	for i := range out.Matches {
		if out.Matches[i].ProgramID == "strict-grant" {
			strict = &out.Matches[i]
		}
	}
	require.NotNil(t, strict)
	assert.False(t, strict.Qualified)
	assert.Contains(t, strict.Disqualifiers, "no active rule version")
}

func TestEvaluateMalformedRuleIsolated(t *testing.T) {
	programs := testPrograms()
	programs[2].Rules[0].Condition = RuleCondition{
		Type: ConditionComparison, Field: FieldState, Operator: ComparisonOperator("resembles"), Weight: 1.0,
	}

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)

	// The malformed program is disqualified with a diagnostic; the other
	// two evaluate normally.
	assert.Equal(t, 2, out.Summary.Qualified)
	for _, m := range out.Matches {
		if m.ProgramID == "strict-grant" {
			assert.False(t, m.Qualified)
			assert.Contains(t, m.Disqualifiers, "rule definition error")
		}
	}
}

func TestEvaluateTimeoutIsPartial(t *testing.T) {
	// An already-expired deadline forces the fan-out to skip everything.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newTestEngine().Evaluate(ctx, testProject(), testPrograms(),
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Empty(t, out.Matches)
}

func TestEvaluateActiveRulePriority(t *testing.T) {
	programs := testPrograms()[:1]
	programs[0].Rules = append(programs[0].Rules, EligibilityRule{
		ID: "big-credit-v2", Version: 2, Priority: 5, Active: true,
		Condition: RuleCondition{Type: ConditionComparison, Field: FieldState, Operator: OpEq, Value: "NY", Weight: 1.0},
		Value:     ValueCalculation{Method: MethodFixed, BaseAmount: 123},
	})

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate()})
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "big-credit-v2", out.Matches[0].RuleID)
	assert.InDelta(t, 123, out.Matches[0].EstimatedValue(), 1e-9)
}

func TestEvaluateContextOverrides(t *testing.T) {
	programs := []IncentiveProgram{{
		ID: "flag-grant", Name: "Flag Grant", Category: CategoryGrant,
		Jurisdiction: JurisdictionState, Active: true,
		Rules: []EligibilityRule{{
			ID: "flag-grant-v1", Version: 1, Priority: 1, Active: true,
			Condition: RuleCondition{
				Type: ConditionComparison, Field: "pilot_participant",
				Operator: OpEq, Value: true, Weight: 1.0, Required: true,
			},
			Value: ValueCalculation{Method: MethodFixed, BaseAmount: 1000},
		}},
	}}

	out, err := newTestEngine().Evaluate(context.Background(), testProject(), programs,
		EngineConfig{EvaluationDate: evalDate(), Context: map[string]any{"pilot_participant": true}})
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	assert.True(t, out.Matches[0].Qualified)
}

func TestSnapshotHashStable(t *testing.T) {
	a := SnapshotHash(testProject())
	b := SnapshotHash(testProject())
	assert.Equal(t, a, b)

	p := testProject()
	p.TotalUnits++
	assert.NotEqual(t, a, SnapshotHash(p))
}
