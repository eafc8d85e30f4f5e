// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eligibility implements the incentive matching and value
// calculation engine.
//
// The engine takes a capital project snapshot and a catalog of incentive
// programs, determines which programs the project qualifies for, computes
// an estimated monetary value for each (including bonus adders), and
// resolves which qualifying programs can be combined ("stacked") into a
// value-maximizing set.
//
// # Pipeline
//
// Evaluation flows through five stages, leaf first:
//
//	ComputedFields → Evaluator → Scorer → Value Calculator → Stacking
//
// The Engine type orchestrates the pipeline per program and aggregates the
// results into a single EligibilityOutput.
//
// # Ownership Model
//
// The engine never mutates its inputs:
//   - Project is an immutable snapshot owned by the caller
//   - ComputedFields are built once per evaluation and read-only after
//   - Programs and rules are read-only for the duration of one call
//
// Results (MatchResult, EligibilityOutput) are created fresh per evaluation
// and handed to the caller; the engine keeps no reference to them.
//
// # Unknown Values
//
// Project data is frequently incomplete. A field that cannot be derived
// (missing input, zero denominator, failed designation lookup) resolves to
// *unknown*, never to a default. On a required condition unknown counts as
// failed (fail closed); on an optional condition unknown contributes zero
// weight in both the numerator and the denominator of the match score.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Per-program evaluation shares no
// mutable state; fan-out workers receive read-only snapshots.
package eligibility

import "errors"

// Sentinel errors for the eligibility engine.
//
// Per-program errors (ErrRuleDefinition, ErrInterpreter) disqualify that
// program only and are recorded as diagnostics on its MatchResult; they
// never abort the batch. Only ErrInvalidProject rejects a request outright.
var (
	// ErrInvalidProject is returned when the project snapshot fails
	// structural validation before evaluation begins. This is the only
	// error that aborts a request.
	ErrInvalidProject = errors.New("invalid project snapshot")

	// ErrRuleDefinition is returned when a rule's condition tree is
	// malformed: unknown condition type, unknown operator, or a composite
	// node with no children. The affected program is disqualified with a
	// diagnostic and the batch continues.
	ErrRuleDefinition = errors.New("malformed eligibility rule")

	// ErrNoActiveRule is returned when a program has no active rule
	// version to evaluate.
	ErrNoActiveRule = errors.New("program has no active rule")

	// ErrInterpreter is returned when a formula or custom expression fails
	// to parse or evaluate. The affected step degrades to unknown; the
	// program is still scored on its remaining conditions.
	ErrInterpreter = errors.New("formula evaluation failed")

	// ErrLookupUnavailable is returned by designation lookups that cannot
	// reach their backing source. Dependent computed fields resolve to
	// unknown, never to false.
	ErrLookupUnavailable = errors.New("designation lookup unavailable")

	// ErrInsufficientData is reported when no weighted condition produced
	// a known result, leaving the score denominator at zero. The program
	// is scored 0 and flagged rather than silently scored 100%.
	ErrInsufficientData = errors.New("insufficient data to score program")

	// ErrEvaluationTimeout is recorded when the overall evaluation
	// deadline expires. Completed per-program results are kept and the
	// output carries Partial=true.
	ErrEvaluationTimeout = errors.New("evaluation deadline exceeded")
)
