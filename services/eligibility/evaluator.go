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
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/incentivegrid/incentivegrid/services/eligibility/formula"
)

// EvalInput is the read-only context for one condition evaluation.
type EvalInput struct {
	Project  *Project
	Computed ComputedFields
	Program  *IncentiveProgram
	At       time.Time
}

// Evaluator recursively evaluates condition trees. Pure and side-effect
// free; compiled expressions and patterns are cached internally, which is
// the only shared state, guarded for concurrent use.
type Evaluator struct {
	logger *slog.Logger

	// exprCache caches compiled formula expressions by source text.
	exprCache sync.Map // string -> *formula.Expr

	// patternCache caches compiled match patterns by source text.
	patternCache sync.Map // string -> *regexp.Regexp
}

// NewEvaluator creates an evaluator. A nil logger falls back to
// slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate walks the condition tree and produces a per-node result tree.
//
// The returned error is reserved for rule definition problems (unknown
// condition type or operator, malformed composite, invalid pattern); the
// caller disqualifies the program on it. Data problems never error: they
// degrade to unknown results per the unknown-value policy.
func (e *Evaluator) Evaluate(cond *RuleCondition, in EvalInput) (ConditionResult, error) {
	switch cond.Type {
	case ConditionComposite:
		return e.evalComposite(cond, in)
	case ConditionDate:
		return e.evalDate(cond, in), nil
	case ConditionGeographic:
		return e.evalGeographic(cond, in), nil
	case ConditionCustom:
		return e.evalCustom(cond, in), nil
	case ConditionComparison, ConditionAffordability, ConditionSustainability,
		ConditionFinancial, ConditionEntity, ConditionTechnology,
		ConditionBonus, ConditionStacking:
		// The domain-specific types share comparison semantics; the type
		// tag is catalog taxonomy, not evaluator behavior.
		return e.evalComparison(cond, in)
	default:
		return ConditionResult{}, fmt.Errorf("%w: unknown condition type %q", ErrRuleDefinition, cond.Type)
	}
}

// base seeds a result with the node's identity fields.
func base(cond *RuleCondition) ConditionResult {
	return ConditionResult{
		Type:     cond.Type,
		Label:    cond.Label,
		Field:    cond.Field,
		Required: cond.Required,
		Weight:   cond.Weight,
	}
}

func pass(cond *RuleCondition) ConditionResult {
	r := base(cond)
	r.Passed = true
	return r
}

func fail(cond *RuleCondition, reason string) ConditionResult {
	r := base(cond)
	r.Reason = reason
	return r
}

func unknown(cond *RuleCondition, reason string) ConditionResult {
	r := base(cond)
	r.Unknown = true
	r.Reason = reason
	return r
}

// =============================================================================
// Comparison family
// =============================================================================

func (e *Evaluator) evalComparison(cond *RuleCondition, in EvalInput) (ConditionResult, error) {
	fv := in.Computed.Get(cond.Field)

	// Existence checks are the only operators defined over unknown fields.
	switch cond.Operator {
	case OpExists:
		if fv.Known {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s is not set", cond.Field)), nil
	case OpNotExists:
		if !fv.Known {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s is set", cond.Field)), nil
	}

	if !fv.Known {
		return unknown(cond, fmt.Sprintf("field %s is unknown", cond.Field)), nil
	}

	switch cond.Operator {
	case OpEq, OpNeq:
		equal, ok := looseEqual(fv.Value, cond.Value)
		if !ok {
			return unknown(cond, fmt.Sprintf("field %s is not comparable to %v", cond.Field, cond.Value)), nil
		}
		want := cond.Operator == OpEq
		if equal == want {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %v, want %s %v", cond.Field, fv.Value, cond.Operator, cond.Value)), nil

	case OpGt, OpGte, OpLt, OpLte:
		have, ok1 := toNumber(fv.Value)
		want, ok2 := toNumber(cond.Value)
		if !ok1 || !ok2 {
			return unknown(cond, fmt.Sprintf("field %s is not numeric", cond.Field)), nil
		}
		passed := false
		switch cond.Operator {
		case OpGt:
			passed = have > want
		case OpGte:
			passed = have >= want
		case OpLt:
			passed = have < want
		case OpLte:
			passed = have <= want
		}
		if passed {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %v, want %s %v", cond.Field, have, cond.Operator, want)), nil

	case OpBetween:
		if len(cond.Values) != 2 {
			return ConditionResult{}, fmt.Errorf("%w: between requires exactly two bounds on %s", ErrRuleDefinition, cond.Field)
		}
		have, ok := toNumber(fv.Value)
		lo, okLo := toNumber(cond.Values[0])
		hi, okHi := toNumber(cond.Values[1])
		if !ok || !okLo || !okHi {
			return unknown(cond, fmt.Sprintf("field %s is not numeric", cond.Field)), nil
		}
		// Inclusive on both bounds.
		if have >= lo && have <= hi {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %v outside [%v, %v]", cond.Field, have, lo, hi)), nil

	case OpIn, OpNotIn:
		found := false
		for _, candidate := range cond.Values {
			if equal, ok := looseEqual(fv.Value, candidate); ok && equal {
				found = true
				break
			}
		}
		want := cond.Operator == OpIn
		if found == want {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %v, want %s %v", cond.Field, fv.Value, cond.Operator, cond.Values)), nil

	case OpContains, OpNotContains:
		found, ok := containsValue(fv, cond.Value)
		if !ok {
			return unknown(cond, fmt.Sprintf("field %s does not support contains", cond.Field)), nil
		}
		want := cond.Operator == OpContains
		if found == want {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s %s %v", cond.Field, cond.Operator, cond.Value)), nil

	case OpStartsWith, OpEndsWith:
		have, ok1 := fv.Text()
		want, ok2 := toText(cond.Value)
		if !ok1 || !ok2 {
			return unknown(cond, fmt.Sprintf("field %s is not a string", cond.Field)), nil
		}
		passed := strings.HasPrefix(have, want)
		if cond.Operator == OpEndsWith {
			passed = strings.HasSuffix(have, want)
		}
		if passed {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %q, want %s %q", cond.Field, have, cond.Operator, want)), nil

	case OpMatches:
		have, ok := fv.Text()
		if !ok {
			return unknown(cond, fmt.Sprintf("field %s is not a string", cond.Field)), nil
		}
		re, err := e.compiledPattern(cond.Pattern)
		if err != nil {
			return ConditionResult{}, fmt.Errorf("%w: invalid pattern %q: %v", ErrRuleDefinition, cond.Pattern, err)
		}
		if re.MatchString(have) {
			return pass(cond), nil
		}
		return fail(cond, fmt.Sprintf("field %s = %q does not match %q", cond.Field, have, cond.Pattern)), nil

	default:
		return ConditionResult{}, fmt.Errorf("%w: unknown operator %q on %s", ErrRuleDefinition, cond.Operator, cond.Field)
	}
}

func (e *Evaluator) compiledPattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := e.patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patternCache.Store(pattern, re)
	return re, nil
}

// =============================================================================
// Date
// =============================================================================

func (e *Evaluator) evalDate(cond *RuleCondition, in EvalInput) ConditionResult {
	// Program window check is independent of any milestone.
	if cond.IsActive {
		if in.Program == nil {
			return unknown(cond, "no program window available")
		}
		if in.Program.WindowContains(in.At) {
			return pass(cond)
		}
		return fail(cond, fmt.Sprintf("program window does not cover %s", in.At.Format("2006-01-02")))
	}

	// The tested date is either the evaluation date (anchored to today)
	// or a project milestone.
	target := in.At
	if cond.Anchor == AnchorMilestone || cond.DateField != "" {
		milestone := in.Project.MilestoneDate(cond.DateField)
		if milestone == nil {
			if t, ok := in.Computed.Get(cond.DateField).Time(); ok {
				milestone = &t
			}
		}
		if milestone == nil {
			return unknown(cond, fmt.Sprintf("milestone %s is not scheduled", cond.DateField))
		}
		target = *milestone
	}

	if cond.WithinDays > 0 {
		// Forward-looking and inclusive: the date must fall within the
		// next WithinDays days of the evaluation date.
		delta := target.Sub(in.At).Hours() / 24
		if delta >= 0 && delta <= float64(cond.WithinDays) {
			return pass(cond)
		}
		return fail(cond, fmt.Sprintf("date %s is %.0f days out, want within %d",
			cond.DateField, delta, cond.WithinDays))
	}

	// Between bounds, inclusive on both ends.
	if cond.NotBefore != nil && target.Before(*cond.NotBefore) {
		return fail(cond, fmt.Sprintf("date %s before %s",
			cond.DateField, cond.NotBefore.Format("2006-01-02")))
	}
	if cond.NotAfter != nil && target.After(*cond.NotAfter) {
		return fail(cond, fmt.Sprintf("date %s after %s",
			cond.DateField, cond.NotAfter.Format("2006-01-02")))
	}
	return pass(cond)
}

// =============================================================================
// Geographic
// =============================================================================

var designationFields = map[string]string{
	"energy_community":     FieldEnergyCommunity,
	"low_income_community": FieldLowIncomeCommunity,
	"distressed":           FieldDistressed,
}

func (e *Evaluator) evalGeographic(cond *RuleCondition, in EvalInput) ConditionResult {
	// Federal programs are location-agnostic by construction.
	if cond.AllowFederal && in.Program != nil && in.Program.Jurisdiction == JurisdictionFederal {
		return pass(cond)
	}

	type dimension struct {
		name string
		list []string
		have string
	}
	dims := []dimension{
		{"state", cond.States, in.Project.State},
		{"county", cond.Counties, in.Project.County},
		{"city", cond.Cities, in.Project.City},
		{"zip", cond.ZipCodes, in.Project.ZipCode},
		{"census_tract", cond.CensusTracts, in.Project.CensusTract},
	}

	sawUnknown := false
	for _, d := range dims {
		if len(d.list) == 0 {
			continue
		}
		if d.have == "" {
			sawUnknown = true
			continue
		}
		if !containsFold(d.list, d.have) {
			return fail(cond, fmt.Sprintf("project %s %q not in program %s list", d.name, d.have, d.name))
		}
	}

	if cond.Designation != "" {
		fieldName, ok := designationFields[cond.Designation]
		if !ok {
			fieldName = cond.Designation
		}
		flag, known := in.Computed.Get(fieldName).Bool()
		if !known {
			return unknown(cond, fmt.Sprintf("designation %s is unknown", cond.Designation))
		}
		if !flag {
			return fail(cond, fmt.Sprintf("project location is not a %s", cond.Designation))
		}
	}

	if sawUnknown {
		return unknown(cond, "project location is incomplete")
	}
	return pass(cond)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// =============================================================================
// Composite
// =============================================================================

func (e *Evaluator) evalComposite(cond *RuleCondition, in EvalInput) (ConditionResult, error) {
	if len(cond.Children) == 0 {
		return ConditionResult{}, fmt.Errorf("%w: composite %q has no children", ErrRuleDefinition, cond.Op)
	}

	result := base(cond)
	result.Op = cond.Op
	children := make([]ConditionResult, 0, len(cond.Children))
	for i := range cond.Children {
		child, err := e.Evaluate(&cond.Children[i], in)
		if err != nil {
			return ConditionResult{}, err
		}
		children = append(children, child)
	}
	result.Children = children

	switch cond.Op {
	case CompositeAnd:
		anyUnknown := false
		for _, child := range children {
			if child.Unknown {
				anyUnknown = true
				continue
			}
			if !child.Passed {
				result.Reason = child.Reason
				// Surface the first failing required child's reason over
				// an optional one.
				for _, c := range children {
					if c.Required && !c.Unknown && !c.Passed {
						result.Reason = c.Reason
						break
					}
				}
				return result, nil
			}
		}
		if anyUnknown {
			result.Unknown = true
			result.Reason = "one or more conditions could not be decided"
			return result, nil
		}
		result.Passed = true
		return result, nil

	case CompositeOr:
		anyUnknown := false
		for _, child := range children {
			if child.Unknown {
				anyUnknown = true
				continue
			}
			if child.Passed {
				result.Passed = true
				return result, nil
			}
		}
		if anyUnknown {
			result.Unknown = true
			result.Reason = "no condition passed and some could not be decided"
			return result, nil
		}
		result.Reason = "no alternative condition passed"
		return result, nil

	case CompositeNot:
		if len(children) != 1 {
			return ConditionResult{}, fmt.Errorf("%w: not requires exactly one child", ErrRuleDefinition)
		}
		child := children[0]
		if child.Unknown {
			result.Unknown = true
			result.Reason = child.Reason
			return result, nil
		}
		// NOT inverts the boolean result only; the child's weight and
		// required flag do not propagate.
		result.Passed = !child.Passed
		if !result.Passed {
			result.Reason = fmt.Sprintf("negated condition passed: %s", child.Label)
		}
		return result, nil

	default:
		return ConditionResult{}, fmt.Errorf("%w: unknown composite operator %q", ErrRuleDefinition, cond.Op)
	}
}

// =============================================================================
// Custom expressions
// =============================================================================

func (e *Evaluator) evalCustom(cond *RuleCondition, in EvalInput) ConditionResult {
	expr, err := e.compiledExpr(cond.Expression)
	if err != nil {
		// Parse failures degrade to unknown with a diagnostic; one bad
		// expression never aborts the batch.
		e.logger.Warn("custom condition failed to compile",
			"expression", cond.Expression,
			"error", err.Error(),
		)
		return unknown(cond, fmt.Sprintf("%v: %v", ErrInterpreter, err))
	}

	val, err := expr.Eval(ctyVars(in.Computed))
	if err != nil {
		e.logger.Warn("custom condition failed to evaluate",
			"expression", cond.Expression,
			"error", err.Error(),
		)
		return unknown(cond, fmt.Sprintf("%v: %v", ErrInterpreter, err))
	}
	if !formula.IsKnown(val) {
		return unknown(cond, "expression depends on unknown fields")
	}
	passed, ok := formula.Truth(val)
	if !ok {
		return unknown(cond, "expression did not produce a boolean")
	}
	if passed {
		return pass(cond)
	}
	return fail(cond, fmt.Sprintf("expression %q is false", cond.Expression))
}

func (e *Evaluator) compiledExpr(src string) (*formula.Expr, error) {
	if cached, ok := e.exprCache.Load(src); ok {
		return cached.(*formula.Expr), nil
	}
	expr, err := formula.Compile(src)
	if err != nil {
		return nil, err
	}
	e.exprCache.Store(src, expr)
	return expr, nil
}

// ctyVars exposes the computed fields to the expression interpreter. The
// fields present here are the whole whitelist: anything else a formula
// references is an evaluation error.
func ctyVars(computed ComputedFields) map[string]cty.Value {
	vars := make(map[string]cty.Value, len(computed))
	for name, fv := range computed {
		if !fv.Known {
			vars[name] = formula.UnknownVal()
			continue
		}
		if n, ok := fv.Number(); ok {
			vars[name] = formula.NumberVal(n)
			continue
		}
		if b, ok := fv.Bool(); ok {
			vars[name] = formula.BoolVal(b)
			continue
		}
		if s, ok := fv.Text(); ok {
			vars[name] = formula.StringVal(s)
			continue
		}
		// Dates and slices are not addressable from formulas.
	}
	return vars
}

// =============================================================================
// Value coercion helpers
// =============================================================================

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func toText(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// looseEqual compares two values numerically when both coerce to numbers,
// otherwise as strings or booleans. The second return is false when the
// values are not comparable at all.
func looseEqual(a, b any) (bool, bool) {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na == nb, true
		}
		return false, false
	}
	if sa, ok := toText(a); ok {
		if sb, ok := toText(b); ok {
			return strings.EqualFold(sa, sb), true
		}
		return false, false
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb, true
		}
		return false, false
	}
	return false, false
}

// containsValue implements contains over both string fields (substring)
// and list fields (membership).
func containsValue(fv FieldValue, needle any) (bool, bool) {
	if list, ok := fv.Strings(); ok {
		want, ok := toText(needle)
		if !ok {
			return false, false
		}
		return containsFold(list, want), true
	}
	if s, ok := fv.Text(); ok {
		want, ok := toText(needle)
		if !ok {
			return false, false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(want)), true
	}
	return false, false
}
