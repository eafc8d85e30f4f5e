// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func testCalculator() *Calculator {
	logger := discardLogger()
	return NewCalculator(NewEvaluator(logger), logger)
}

func calcInput(fields ComputedFields) EvalInput {
	return EvalInput{Project: &Project{ID: "p", State: "NY"}, Computed: fields}
}

func TestCalculateFixed(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{Method: MethodFixed, BaseAmount: 50000}}
	bd := testCalculator().Calculate(rule, calcInput(ComputedFields{}), nil)

	assert.InDelta(t, 50000, bd.FinalValue, 1e-9)
	assert.True(t, bd.BasisKnown)
	assert.InDelta(t, 1.0, bd.Confidence, 1e-9)
}

func TestCalculatePercentage(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
	}}
	fields := ComputedFields{FieldEligibleBasis: KnownValue(1000000.0)}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	assert.InDelta(t, 300000, bd.FinalValue, 1e-9)
	assert.True(t, bd.BasisKnown)
}

func TestCalculatePerUnit(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{Method: MethodPerUnit, Rate: 1500}}
	fields := ComputedFields{FieldTotalUnits: KnownValue(120)}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// Default basis field for per_unit is total_units.
	assert.Equal(t, FieldTotalUnits, bd.BasisField)
	assert.InDelta(t, 180000, bd.FinalValue, 1e-9)
}

func TestCalculateTieredIsMarginal(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method:     MethodTiered,
		BasisField: FieldSolarCapacityKW,
		Tiers: []ValueTier{
			{Threshold: 0, Rate: 0.10},
			{Threshold: 100, Rate: 0.20},
		},
	}}
	fields := ComputedFields{FieldSolarCapacityKW: KnownValue(150.0)}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// Tax-bracket style: 100 at 0.10 plus 50 at 0.20.
	assert.InDelta(t, 20.0, bd.FinalValue, 1e-9)
}

func TestCalculateTieredUnsortedInput(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method:     MethodTiered,
		BasisField: FieldSolarCapacityKW,
		Tiers: []ValueTier{
			{Threshold: 100, Rate: 0.20},
			{Threshold: 0, Rate: 0.10},
		},
	}}
	fields := ComputedFields{FieldSolarCapacityKW: KnownValue(150.0)}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)
	assert.InDelta(t, 20.0, bd.FinalValue, 1e-9)
}

func TestCalculateFormula(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method:  MethodFormula,
		Formula: "min(total_units * 2000, 100000)",
	}}
	fields := ComputedFields{
		FieldTotalDevCost: KnownValue(1.0),
		FieldTotalUnits:   KnownValue(120),
	}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)
	assert.InDelta(t, 100000, bd.FinalValue, 1e-9)
}

func TestCalculateBonusAdders(t *testing.T) {
	bonusCond := func(field string) RuleCondition {
		return RuleCondition{Type: ConditionBonus, Field: field, Operator: OpEq, Value: true, Weight: 1.0}
	}
	rule := &EligibilityRule{
		Value: ValueCalculation{Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30},
		Bonuses: []BonusAdder{
			{ID: "energy-community", Percentage: 0.10, Condition: bonusCond(FieldEnergyCommunity)},
			{ID: "domestic-content", Percentage: 0.10, Condition: bonusCond(FieldDomesticContent)},
			{ID: "low-income", Percentage: 0.20, Condition: bonusCond(FieldLowIncomeCommunity)},
		},
	}
	fields := ComputedFields{
		FieldEligibleBasis:      KnownValue(5000000.0),
		FieldEnergyCommunity:    KnownValue(true),
		FieldDomesticContent:    KnownValue(true),
		FieldLowIncomeCommunity: KnownValue(true),
	}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// 30% base plus 10+10+20 bonus points on the same basis.
	assert.InDelta(t, 1500000, bd.BaseValue, 1e-9)
	assert.InDelta(t, 2000000, bd.BonusTotal, 1e-9)
	assert.InDelta(t, 3500000, bd.FinalValue, 1e-9)
	require.Len(t, bd.Bonuses, 3)
	for _, b := range bd.Bonuses {
		assert.True(t, b.Qualified)
	}
}

func TestCalculateBonusUnknownFailsClosed(t *testing.T) {
	rule := &EligibilityRule{
		Value: ValueCalculation{Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30},
		Bonuses: []BonusAdder{
			{ID: "energy-community", Percentage: 0.10, Condition: RuleCondition{
				Type: ConditionBonus, Field: FieldEnergyCommunity, Operator: OpEq, Value: true, Weight: 1.0,
			}},
		},
	}
	fields := ComputedFields{
		FieldEligibleBasis:   KnownValue(1000000.0),
		FieldEnergyCommunity: UnknownValue(),
	}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// Unknown never adds money.
	assert.InDelta(t, 300000, bd.FinalValue, 1e-9)
	require.Len(t, bd.Bonuses, 1)
	assert.False(t, bd.Bonuses[0].Qualified)
	assert.NotEmpty(t, bd.Diagnostics)
	assert.Less(t, bd.Confidence, 1.0)
}

func TestCalculateBonusCap(t *testing.T) {
	alwaysTrue := RuleCondition{Type: ConditionBonus, Field: FieldPrevailingWage, Operator: OpEq, Value: true, Weight: 1.0}
	rule := &EligibilityRule{
		Value: ValueCalculation{Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30},
		Bonuses: []BonusAdder{
			{ID: "a", Percentage: 0.20, Condition: alwaysTrue},
			{ID: "b", Percentage: 0.20, Condition: alwaysTrue},
		},
	}
	fields := ComputedFields{
		FieldEligibleBasis:  KnownValue(1000000.0),
		FieldPrevailingWage: KnownValue(true),
	}

	t.Run("engine-level cap", func(t *testing.T) {
		bd := testCalculator().Calculate(rule, calcInput(fields), ptr(0.30))
		assert.True(t, bd.CapApplied)
		assert.InDelta(t, 300000, bd.BonusTotal, 1e-9)
		assert.InDelta(t, 600000, bd.FinalValue, 1e-9)
	})

	t.Run("per-rule cap overrides engine cap", func(t *testing.T) {
		capped := *rule
		capped.Value.BonusCapPct = ptr(0.10)
		bd := testCalculator().Calculate(&capped, calcInput(fields), ptr(0.30))
		assert.True(t, bd.CapApplied)
		assert.InDelta(t, 100000, bd.BonusTotal, 1e-9)
	})

	t.Run("uncapped", func(t *testing.T) {
		bd := testCalculator().Calculate(rule, calcInput(fields), nil)
		assert.False(t, bd.CapApplied)
		assert.InDelta(t, 400000, bd.BonusTotal, 1e-9)
	})
}

func TestCalculateClampAppliesAfterBonuses(t *testing.T) {
	alwaysTrue := RuleCondition{Type: ConditionBonus, Field: FieldPrevailingWage, Operator: OpEq, Value: true, Weight: 1.0}
	rule := &EligibilityRule{
		Value: ValueCalculation{
			Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
			MaxValue: ptr(350000),
		},
		Bonuses: []BonusAdder{{ID: "a", Percentage: 0.10, Condition: alwaysTrue}},
	}
	fields := ComputedFields{
		FieldEligibleBasis:  KnownValue(1000000.0),
		FieldPrevailingWage: KnownValue(true),
	}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// Base 300k plus 100k bonus clamps to the 350k maximum.
	assert.True(t, bd.Clamped)
	assert.InDelta(t, 350000, bd.FinalValue, 1e-9)
	assert.LessOrEqual(t, bd.ValueHigh, 350000.0)
}

func TestCalculateBonusOnBase(t *testing.T) {
	alwaysTrue := RuleCondition{Type: ConditionBonus, Field: FieldPrevailingWage, Operator: OpEq, Value: true, Weight: 1.0}
	rule := &EligibilityRule{
		Value: ValueCalculation{
			Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
			BonusOnBase: true,
		},
		Bonuses: []BonusAdder{{ID: "a", Percentage: 0.10, Condition: alwaysTrue}},
	}
	fields := ComputedFields{
		FieldEligibleBasis:  KnownValue(1000000.0),
		FieldPrevailingWage: KnownValue(true),
	}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// 10% of the 300k base, not of the 1M basis.
	assert.InDelta(t, 30000, bd.BonusTotal, 1e-9)
	assert.InDelta(t, 330000, bd.FinalValue, 1e-9)
}

func TestCalculateUnknownBasis(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
	}}
	bd := testCalculator().Calculate(rule, calcInput(ComputedFields{}), nil)

	assert.False(t, bd.BasisKnown)
	assert.Equal(t, 0.0, bd.FinalValue)
	assert.NotEmpty(t, bd.Diagnostics)
	assert.Equal(t, 0.0, bd.Confidence)
}

func TestCalculateValueBand(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
	}}
	fields := ComputedFields{FieldEligibleBasis: KnownValue(1000000.0)}
	bd := testCalculator().Calculate(rule, calcInput(fields), nil)

	// Full confidence gives the default 30% spread around the final value.
	assert.InDelta(t, 210000, bd.ValueLow, 1e-6)
	assert.InDelta(t, 390000, bd.ValueHigh, 1e-6)
	assert.LessOrEqual(t, bd.ValueLow, bd.FinalValue)
	assert.GreaterOrEqual(t, bd.ValueHigh, bd.FinalValue)
}

func TestCalculateConfidenceBlendsDataConfidence(t *testing.T) {
	rule := &EligibilityRule{Value: ValueCalculation{
		Method: MethodPercentage, BasisField: FieldEligibleBasis, Percentage: 0.30,
	}}
	in := calcInput(ComputedFields{FieldEligibleBasis: KnownValue(1000000.0)})
	in.Program = &IncentiveProgram{ID: "p", DataConfidence: 0.8}
	bd := testCalculator().Calculate(rule, in, nil)

	assert.InDelta(t, 0.8, bd.Confidence, 1e-9)
	// Lower confidence widens the band beyond the default spread.
	assert.Less(t, bd.ValueLow, bd.FinalValue*(1-defaultBandSpread)+1e-6)
}
