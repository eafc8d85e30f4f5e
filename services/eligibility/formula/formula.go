// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package formula provides the restricted expression interpreter used by
// custom conditions and formula value calculations.
//
// Rule catalogs historically shipped evaluator logic as serialized host
// language functions. That pattern is a code-injection hole, so it is not
// supported here: expressions are parsed into an HCL syntax tree and
// interpreted against an evaluation context that exposes only whitelisted
// computed fields and a small set of arithmetic functions. There is no
// host-language eval anywhere in this package.
//
// Unknown project data propagates natively: unknown fields enter the
// context as cty unknown values, and any arithmetic or comparison touching
// them produces an unknown result rather than a fault.
//
// Example expressions:
//
//	affordability_pct >= 20 && total_units > 50
//	min(total_development_cost * 0.05, 250000)
package formula

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// allowedFunctions is the full function surface available to expressions.
// Anything else is an evaluation error.
var allowedFunctions = map[string]function.Function{
	"min":   stdlib.MinFunc,
	"max":   stdlib.MaxFunc,
	"abs":   stdlib.AbsoluteFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
}

// Expr is a compiled expression, reusable across evaluations. Compile once
// per rule load; Eval is cheap and safe for concurrent use.
type Expr struct {
	src  string
	expr hclsyntax.Expression
}

// Compile parses an expression. Returns an error with the parser
// diagnostics when the source is not a valid expression.
func Compile(src string) (*Expr, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "formula", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diags.Error())
	}
	return &Expr{src: src, expr: expr}, nil
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Variables returns the root variable names the expression references, in
// syntax order. Useful for validating an expression against the field
// whitelist at catalog load time.
func (e *Expr) Variables() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, traversal := range e.expr.Variables() {
		name := traversal.RootName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Eval interprets the expression against the given variables.
//
// Unknown inputs flow through: the result may itself be unknown, which
// callers must check with IsKnown before converting. References to
// variables absent from vars are evaluation errors, which keeps the field
// whitelist authoritative.
func (e *Expr) Eval(vars map[string]cty.Value) (cty.Value, error) {
	ctx := &hcl.EvalContext{
		Variables: vars,
		Functions: allowedFunctions,
	}
	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("eval %q: %s", e.src, diags.Error())
	}
	return val, nil
}

// IsKnown reports whether a result carries a concrete value.
func IsKnown(v cty.Value) bool {
	return v != cty.NilVal && !v.IsNull() && v.IsWhollyKnown()
}

// Number converts a known result to float64. The second return is false
// for unknown, null, or non-numeric results.
func Number(v cty.Value) (float64, bool) {
	if !IsKnown(v) || v.Type() != cty.Number {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// Truth converts a known result to bool. The second return is false for
// unknown, null, or non-boolean results.
func Truth(v cty.Value) (bool, bool) {
	if !IsKnown(v) || v.Type() != cty.Bool {
		return false, false
	}
	return v.True(), true
}

// NumberVal wraps a float64 for the evaluation context.
func NumberVal(f float64) cty.Value { return cty.NumberFloatVal(f) }

// BoolVal wraps a bool for the evaluation context.
func BoolVal(b bool) cty.Value { return cty.BoolVal(b) }

// StringVal wraps a string for the evaluation context.
func StringVal(s string) cty.Value { return cty.StringVal(s) }

// UnknownVal is the unknown marker for the evaluation context. Arithmetic
// and comparisons over it stay unknown instead of failing.
func UnknownVal() cty.Value { return cty.DynamicVal }
