// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := Compile("total_units >=")
	assert.Error(t, err)
}

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]cty.Value
		want float64
	}{
		{
			name: "basic arithmetic",
			src:  "total_development_cost * 0.05",
			vars: map[string]cty.Value{"total_development_cost": NumberVal(1000000)},
			want: 50000,
		},
		{
			name: "min caps the result",
			src:  "min(total_development_cost * 0.05, 25000)",
			vars: map[string]cty.Value{"total_development_cost": NumberVal(1000000)},
			want: 25000,
		},
		{
			name: "conditional expression",
			src:  "affordability_pct >= 20 ? 1000 : 0",
			vars: map[string]cty.Value{"affordability_pct": NumberVal(35)},
			want: 1000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Compile(tc.src)
			require.NoError(t, err)

			val, err := expr.Eval(tc.vars)
			require.NoError(t, err)

			got, ok := Number(val)
			require.True(t, ok, "expected a known number")
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestEvalComparison(t *testing.T) {
	expr, err := Compile("affordability_pct >= 20 && total_units > 50")
	require.NoError(t, err)

	val, err := expr.Eval(map[string]cty.Value{
		"affordability_pct": NumberVal(25),
		"total_units":       NumberVal(120),
	})
	require.NoError(t, err)

	b, ok := Truth(val)
	require.True(t, ok)
	assert.True(t, b)
}

func TestUnknownPropagates(t *testing.T) {
	expr, err := Compile("cost_per_unit * 0.1 > 5000")
	require.NoError(t, err)

	val, err := expr.Eval(map[string]cty.Value{"cost_per_unit": UnknownVal()})
	require.NoError(t, err)

	assert.False(t, IsKnown(val), "unknown input must not produce a known result")
	_, ok := Truth(val)
	assert.False(t, ok)
}

func TestUnlistedVariableIsError(t *testing.T) {
	expr, err := Compile("secret_field * 2")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]cty.Value{"total_units": NumberVal(1)})
	assert.Error(t, err, "references outside the whitelist must fail")
}

func TestUnlistedFunctionIsError(t *testing.T) {
	expr, err := Compile(`upper("x")`)
	require.NoError(t, err)

	_, err = expr.Eval(map[string]cty.Value{})
	assert.Error(t, err, "functions outside the whitelist must fail")
}

func TestVariables(t *testing.T) {
	expr, err := Compile("a + b * a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, expr.Variables())
}
