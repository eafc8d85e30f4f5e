// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/incentivegrid/incentivegrid/services/eligibility/formula"
)

// defaultBandSpread is the uncertainty band applied around the final value
// when the program specifies no explicit min/max amounts. Lower confidence
// widens the band up to twice this spread.
const defaultBandSpread = 0.30

// Calculator derives a program's estimated monetary value from its
// ValueCalculation config, the resolved basis, and the qualifying bonus
// adders. Safe for concurrent use.
type Calculator struct {
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewCalculator creates a calculator sharing the given evaluator (bonus
// adder conditions are ordinary condition trees).
func NewCalculator(evaluator *Evaluator, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{evaluator: evaluator, logger: logger}
}

// defaultBasisField maps a calculation method to the field naturally
// supplying its basis when the rule does not name one.
func defaultBasisField(method CalculationMethod) string {
	switch method {
	case MethodPerUnit:
		return FieldTotalUnits
	case MethodPerKW:
		return FieldSolarCapacityKW
	case MethodPerSqFt:
		return FieldSquareFeet
	default:
		return FieldTotalDevCost
	}
}

// Calculate produces the ValueBreakdown for one rule.
//
// Description:
//
//	Resolves the basis figure, applies the configured calculation method,
//	layers qualifying bonus adders subject to the combined-bonus cap, and
//	clamps the post-bonus total to the program's min/max bounds. The
//	clamp applies after bonuses; the cap applies to the bonus total
//	before the clamp. Interpreter failures skip the affected step with a
//	diagnostic rather than erroring out.
//
// Inputs:
//
//	rule - The evaluated program's rule. Must not be nil.
//	in - The evaluation context (project, computed fields, program).
//	capPct - The engine-level combined-bonus ceiling; the rule's own
//	  BonusCapPct overrides it. Nil means uncapped.
//
// Outputs:
//
//	*ValueBreakdown - The derived value with steps, band, and confidence.
func (c *Calculator) Calculate(rule *EligibilityRule, in EvalInput, capPct *float64) *ValueBreakdown {
	cfg := &rule.Value
	bd := &ValueBreakdown{
		Method:     cfg.Method,
		BasisField: cfg.BasisField,
	}
	if bd.BasisField == "" && cfg.Method != MethodFixed {
		bd.BasisField = defaultBasisField(cfg.Method)
	}

	// Inputs tracked for the confidence measure: basis plus each bonus
	// condition that produced a decidable outcome.
	knownInputs, totalInputs := 0, 0

	if cfg.Method != MethodFixed {
		totalInputs++
		if basis, ok := in.Computed.Get(bd.BasisField).Number(); ok {
			bd.Basis = basis
			bd.BasisKnown = true
			knownInputs++
		} else {
			bd.Diagnostics = append(bd.Diagnostics,
				fmt.Sprintf("basis field %s is unknown", bd.BasisField))
		}
	} else {
		bd.BasisKnown = true
	}

	c.applyMethod(cfg, bd, in)

	// Bonus adders. Each is gated by its own condition tree; unknown
	// verdicts do not qualify (fail closed on money).
	bonusBase := bd.Basis
	if cfg.BonusOnBase || cfg.Method == MethodFixed {
		bonusBase = bd.BaseValue
	}
	var qualifiedPct float64
	for i := range rule.Bonuses {
		adder := &rule.Bonuses[i]
		applied := BonusApplied{ID: adder.ID, Label: adder.Label, Percentage: adder.Percentage}

		res, err := c.evaluator.Evaluate(&adder.Condition, in)
		switch {
		case err != nil:
			bd.Diagnostics = append(bd.Diagnostics,
				fmt.Sprintf("bonus %s skipped: %v", adder.ID, err))
		case res.Unknown:
			totalInputs++
			bd.Diagnostics = append(bd.Diagnostics,
				fmt.Sprintf("bonus %s not applied: %s", adder.ID, res.Reason))
		case res.Passed:
			totalInputs++
			knownInputs++
			applied.Qualified = true
			applied.Amount = adder.Percentage * bonusBase
			qualifiedPct += adder.Percentage
			bd.Steps = append(bd.Steps, fmt.Sprintf("bonus %s: +%.0f%% = %.2f",
				adder.ID, adder.Percentage*100, applied.Amount))
		default:
			totalInputs++
			knownInputs++
		}
		bd.Bonuses = append(bd.Bonuses, applied)
	}

	// Combined-bonus ceiling: per-rule cap wins over the engine default.
	effectiveCap := capPct
	if cfg.BonusCapPct != nil {
		effectiveCap = cfg.BonusCapPct
	}
	if effectiveCap != nil && qualifiedPct > *effectiveCap {
		bd.CapApplied = true
		bd.Steps = append(bd.Steps, fmt.Sprintf("bonus cap: %.0f%% -> %.0f%%",
			qualifiedPct*100, *effectiveCap*100))
		qualifiedPct = *effectiveCap
	}
	bd.BonusTotal = qualifiedPct * bonusBase

	// Clamp the post-bonus total, not the base alone.
	final := bd.BaseValue + bd.BonusTotal
	if cfg.MinValue != nil && final < *cfg.MinValue {
		final = *cfg.MinValue
		bd.Clamped = true
	}
	if cfg.MaxValue != nil && final > *cfg.MaxValue {
		final = *cfg.MaxValue
		bd.Clamped = true
	}
	bd.FinalValue = final
	if bd.Clamped {
		bd.Steps = append(bd.Steps, fmt.Sprintf("clamped to %.2f", final))
	}

	bd.Confidence = confidence(knownInputs, totalInputs, in.Program)
	bd.ValueLow, bd.ValueHigh = valueBand(bd, cfg)

	return bd
}

// applyMethod computes the base value for the configured method.
func (c *Calculator) applyMethod(cfg *ValueCalculation, bd *ValueBreakdown, in EvalInput) {
	switch cfg.Method {
	case MethodFixed:
		bd.BaseValue = cfg.BaseAmount
		bd.Steps = append(bd.Steps, fmt.Sprintf("fixed: %.2f", bd.BaseValue))

	case MethodPercentage:
		if !bd.BasisKnown {
			return
		}
		bd.BaseValue = bd.Basis * cfg.Percentage
		bd.Steps = append(bd.Steps, fmt.Sprintf("percentage: %.2f x %.2f%% = %.2f",
			bd.Basis, cfg.Percentage*100, bd.BaseValue))

	case MethodPerUnit, MethodPerKW, MethodPerSqFt:
		if !bd.BasisKnown {
			return
		}
		bd.BaseValue = cfg.Rate * bd.Basis
		bd.Steps = append(bd.Steps, fmt.Sprintf("%s: %.2f x %.2f = %.2f",
			cfg.Method, cfg.Rate, bd.Basis, bd.BaseValue))

	case MethodTiered:
		if !bd.BasisKnown {
			return
		}
		bd.BaseValue = progressiveTiers(cfg.Tiers, bd.Basis, &bd.Steps)

	case MethodFormula:
		c.applyFormula(cfg, bd, in)

	default:
		bd.Diagnostics = append(bd.Diagnostics,
			fmt.Sprintf("unknown calculation method %q", cfg.Method))
	}
}

// progressiveTiers applies tiers marginally, tax-bracket style: each
// tier's rate covers only the portion of the basis between its threshold
// and the next tier's threshold.
func progressiveTiers(tiers []ValueTier, basis float64, steps *[]string) float64 {
	sorted := make([]ValueTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	var value float64
	for i, tier := range sorted {
		if basis <= tier.Threshold {
			break
		}
		upper := basis
		if i+1 < len(sorted) && sorted[i+1].Threshold < basis {
			upper = sorted[i+1].Threshold
		}
		portion := upper - tier.Threshold
		value += portion * tier.Rate
		*steps = append(*steps, fmt.Sprintf("tier >%.2f: %.2f x %.2f = %.2f",
			tier.Threshold, portion, tier.Rate, portion*tier.Rate))
	}
	return value
}

// applyFormula evaluates a formula method through the restricted
// interpreter. Failures degrade: the base value stays zero and a
// diagnostic records why.
func (c *Calculator) applyFormula(cfg *ValueCalculation, bd *ValueBreakdown, in EvalInput) {
	expr, err := formula.Compile(cfg.Formula)
	if err != nil {
		c.logger.Warn("value formula failed to compile", "formula", cfg.Formula, "error", err.Error())
		bd.Diagnostics = append(bd.Diagnostics, fmt.Sprintf("%v: %v", ErrInterpreter, err))
		return
	}
	val, err := expr.Eval(ctyVars(in.Computed))
	if err != nil {
		c.logger.Warn("value formula failed to evaluate", "formula", cfg.Formula, "error", err.Error())
		bd.Diagnostics = append(bd.Diagnostics, fmt.Sprintf("%v: %v", ErrInterpreter, err))
		return
	}
	n, ok := formula.Number(val)
	if !ok {
		bd.Diagnostics = append(bd.Diagnostics, "formula depends on unknown fields or is non-numeric")
		return
	}
	bd.BaseValue = n
	bd.Steps = append(bd.Steps, fmt.Sprintf("formula: %s = %.2f", cfg.Formula, n))
}

// confidence blends the known-input fraction with the program's own data
// confidence. A program with no stated confidence counts as fully
// confident in its catalog data.
func confidence(known, total int, program *IncentiveProgram) float64 {
	inputFrac := 1.0
	if total > 0 {
		inputFrac = float64(known) / float64(total)
	}
	dataConf := 1.0
	if program != nil && program.DataConfidence > 0 {
		dataConf = program.DataConfidence
	}
	return inputFrac * dataConf
}

// valueBand derives the low/high range. Explicit program min/max amounts
// bound the band directly; otherwise the default spread widens as
// confidence drops (30% at full confidence, up to 60%).
func valueBand(bd *ValueBreakdown, cfg *ValueCalculation) (low, high float64) {
	spread := defaultBandSpread + (1-bd.Confidence)*defaultBandSpread
	low = bd.FinalValue * (1 - spread)
	high = bd.FinalValue * (1 + spread)
	if cfg.MinValue != nil && low < *cfg.MinValue {
		low = *cfg.MinValue
	}
	if cfg.MaxValue != nil && high > *cfg.MaxValue {
		high = *cfg.MaxValue
	}
	if low > bd.FinalValue {
		low = bd.FinalValue
	}
	if high < bd.FinalValue {
		high = bd.FinalValue
	}
	return low, high
}
