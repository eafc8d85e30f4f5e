// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"fmt"
	"sort"
)

// AnalyzeStacking selects a conflict-free, value-maximizing subset of the
// qualified matches under the deny/reduce/require rule set.
//
// Description:
//
//	Exact maximum-weight selection under deny and require constraints is
//	NP-hard in general, so this is a deterministic greedy heuristic, not
//	an optimality proof: candidates are sorted by estimated value
//	descending (ties broken by program id), then accepted unless a deny
//	edge conflicts with an already-accepted program or a require
//	dependency is unmet. Candidates with unmet require dependencies are
//	deferred and rechecked once after the full pass. Reduce edges adjust
//	values in both directions as programs join the stack. An exact
//	branch-and-bound pass for small candidate sets could replace this
//	later without changing the interface.
//
// Inputs:
//
//	matches - Per-program results; only qualified entries participate.
//	rules - The global stacking rule set.
//
// Outputs:
//
//	*StackingAnalysisResult - Recommended programs in acceptance order,
//	adjusted total, conflicts with reasons, and the rules that fired.
func AnalyzeStacking(matches []MatchResult, rules []StackingRule) *StackingAnalysisResult {
	result := &StackingAnalysisResult{Recommended: []string{}}

	type candidate struct {
		id    string
		value float64
	}
	var candidates []candidate
	for i := range matches {
		if !matches[i].Qualified {
			continue
		}
		candidates = append(candidates, candidate{
			id:    matches[i].ProgramID,
			value: matches[i].EstimatedValue(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].value != candidates[j].value {
			return candidates[i].value > candidates[j].value
		}
		return candidates[i].id < candidates[j].id
	})

	// Index the rule edges. Deny is symmetric; reduce and require are
	// directed A -> B.
	inSet := func(id string) bool {
		for _, c := range candidates {
			if c.id == id {
				return true
			}
		}
		return false
	}
	denies := make(map[string][]StackingRule)
	reducedBy := make(map[string][]StackingRule) // key: ProgramB
	requires := make(map[string][]StackingRule)  // key: ProgramB
	applied := make(map[string]struct{})
	for _, rule := range rules {
		switch rule.Effect {
		case StackDeny:
			denies[rule.ProgramA] = append(denies[rule.ProgramA], rule)
			denies[rule.ProgramB] = append(denies[rule.ProgramB], rule)
		case StackReduce:
			reducedBy[rule.ProgramB] = append(reducedBy[rule.ProgramB], rule)
		case StackRequire:
			// A require edge against a program that is not even a
			// candidate can never be satisfied this run; it still gates.
			requires[rule.ProgramB] = append(requires[rule.ProgramB], rule)
		}
	}

	accepted := make(map[string]float64)
	var order []string

	tryAccept := func(c candidate, deferOK bool) (ok, deferred bool) {
		for _, rule := range denies[c.id] {
			other := rule.ProgramA
			if other == c.id {
				other = rule.ProgramB
			}
			if _, taken := accepted[other]; taken {
				reason := rule.Reason
				if reason == "" {
					reason = fmt.Sprintf("mutually exclusive with %s", other)
				}
				result.Conflicts = append(result.Conflicts, StackConflict{
					ProgramID: c.id, RuleID: rule.ID, Reason: reason,
				})
				applied[rule.ID] = struct{}{}
				return false, false
			}
		}
		for _, rule := range requires[c.id] {
			if _, taken := accepted[rule.ProgramA]; !taken {
				if deferOK && inSet(rule.ProgramA) {
					return false, true
				}
				reason := rule.Reason
				if reason == "" {
					reason = fmt.Sprintf("requires %s in the stack", rule.ProgramA)
				}
				result.Conflicts = append(result.Conflicts, StackConflict{
					ProgramID: c.id, RuleID: rule.ID, Reason: reason,
				})
				applied[rule.ID] = struct{}{}
				return false, false
			}
			applied[rule.ID] = struct{}{}
		}

		// Reduce edges against the incoming candidate.
		value := c.value
		for _, rule := range reducedBy[c.id] {
			if _, taken := accepted[rule.ProgramA]; taken {
				adjusted := value * (1 - rule.ReductionPct)
				result.Adjustments = append(result.Adjustments, StackAdjustment{
					ProgramID: c.id, RuleID: rule.ID,
					OriginalValue: value, AdjustedValue: adjusted,
				})
				applied[rule.ID] = struct{}{}
				value = adjusted
			}
		}
		// Reduce edges the candidate imposes on already-accepted programs.
		for otherID, reduceRules := range reducedBy {
			current, taken := accepted[otherID]
			if !taken {
				continue
			}
			for _, rule := range reduceRules {
				if rule.ProgramA != c.id {
					continue
				}
				adjusted := current * (1 - rule.ReductionPct)
				result.Adjustments = append(result.Adjustments, StackAdjustment{
					ProgramID: otherID, RuleID: rule.ID,
					OriginalValue: current, AdjustedValue: adjusted,
				})
				applied[rule.ID] = struct{}{}
				accepted[otherID] = adjusted
				current = adjusted
			}
		}

		accepted[c.id] = value
		order = append(order, c.id)
		return true, false
	}

	var deferred []candidate
	for _, c := range candidates {
		if _, wasDeferred := tryAccept(c, true); wasDeferred {
			deferred = append(deferred, c)
		}
	}
	// One recheck pass: require dependencies may have joined after the
	// dependent was first seen.
	for _, c := range deferred {
		tryAccept(c, false)
	}

	if len(order) > 0 {
		result.Recommended = order
	}
	for _, id := range order {
		result.TotalValue += accepted[id]
	}
	for id := range applied {
		result.AppliedRules = append(result.AppliedRules, id)
	}
	sort.Strings(result.AppliedRules)

	return result
}
