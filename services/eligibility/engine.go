// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var (
	tracer = otel.Tracer("incentivegrid.eligibility")
	meter  = otel.Meter("incentivegrid.eligibility")
)

// maxFanOut caps the worker count regardless of CPU count. Per-program
// evaluation is short and CPU-bound; excess parallelism buys nothing.
const maxFanOut = 8

// runNamespace seeds deterministic run IDs: identical inputs at the same
// evaluation date produce the same RunID, which keeps full outputs
// comparable across reruns.
var runNamespace = uuid.MustParse("9af0c3b2-5b1d-4a0e-9f1e-2d7a6c1b8e44")

// Engine is the public entry point of the eligibility subsystem.
//
// One Engine is safe for concurrent use: per-call state lives on the
// stack, and fan-out workers share only read-only snapshots.
type Engine struct {
	resolver   *Resolver
	evaluator  *Evaluator
	calculator *Calculator
	logger     *slog.Logger
	validate   *validator.Validate

	// Metrics (initialized lazily).
	metricsOnce     sync.Once
	evalLatency     metric.Float64Histogram
	programsScored  metric.Int64Counter
	programFailures metric.Int64Counter
	activeRuns      metric.Int64UpDownCounter
}

// NewEngine creates an engine. lookup may be nil (designation flags stay
// unknown); a nil logger falls back to slog.Default().
func NewEngine(lookup DesignationLookup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	evaluator := NewEvaluator(logger)
	return &Engine{
		resolver:   NewResolver(lookup, logger),
		evaluator:  evaluator,
		calculator: NewCalculator(evaluator, logger),
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// initMetrics lazily creates the engine metrics. Creation failures degrade
// to unrecorded metrics; they never block evaluation.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var err error
		e.evalLatency, err = meter.Float64Histogram("eligibility_evaluation_duration_seconds",
			metric.WithDescription("End-to-end evaluation time per request"),
			metric.WithUnit("s"),
		)
		if err != nil {
			e.logger.Warn("metric init failed", "metric", "eval_latency", "error", err.Error())
		}
		e.programsScored, err = meter.Int64Counter("eligibility_programs_scored_total",
			metric.WithDescription("Programs evaluated to a MatchResult"),
		)
		if err != nil {
			e.logger.Warn("metric init failed", "metric", "programs_scored", "error", err.Error())
		}
		e.programFailures, err = meter.Int64Counter("eligibility_program_failures_total",
			metric.WithDescription("Programs disqualified by rule or interpreter errors"),
		)
		if err != nil {
			e.logger.Warn("metric init failed", "metric", "program_failures", "error", err.Error())
		}
		e.activeRuns, err = meter.Int64UpDownCounter("eligibility_active_evaluations",
			metric.WithDescription("Evaluations currently in flight"),
		)
		if err != nil {
			e.logger.Warn("metric init failed", "metric", "active_runs", "error", err.Error())
		}
	})
}

// Evaluate matches one project against a program catalog.
//
// Description:
//
//	Validates the project snapshot, resolves computed fields once, fans
//	per-program evaluation across a bounded worker pool, then collects,
//	ranks, groups, and runs the stacking analysis. Programs are evaluated
//	independently; a malformed rule disqualifies its own program with a
//	diagnostic and the batch continues. On deadline expiry completed
//	results are kept and the output carries Partial=true.
//
// Inputs:
//
//	ctx - Context for cancellation and the lookup boundary.
//	project - The immutable project snapshot. Must not be nil.
//	programs - The catalog slice to match against.
//	cfg - Run options; see EngineConfig.
//
// Outputs:
//
//	*EligibilityOutput - The ranked, valued, conflict-resolved result set.
//	error - Non-nil only for invalid input; per-program errors degrade.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Evaluate(ctx context.Context, project *Project, programs []IncentiveProgram, cfg EngineConfig) (*EligibilityOutput, error) {
	e.initMetrics()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "eligibility.Evaluate",
		trace.WithAttributes(
			attribute.String("project_id", project.ID),
			attribute.Int("program_count", len(programs)),
		),
	)
	defer span.End()

	if e.activeRuns != nil {
		e.activeRuns.Add(ctx, 1)
		defer e.activeRuns.Add(ctx, -1)
	}

	if err := e.validate.Struct(project); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidProject, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	at := cfg.EvaluationDate
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	computed := e.resolver.Resolve(ctx, project, at, cfg.Context)
	in := EvalInput{Project: project, Computed: computed, At: at}

	matches, partial := e.fanOut(ctx, in, programs, cfg)

	output := e.assemble(project, programs, matches, cfg, at)
	output.Partial = partial
	output.DurationMS = time.Since(start).Milliseconds()

	if e.evalLatency != nil {
		e.evalLatency.Record(ctx, time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.Int("matches", len(output.Matches)),
		attribute.Int("qualified", output.Summary.Qualified),
		attribute.Bool("partial", partial),
	)

	e.logger.Info("evaluation complete",
		"project_id", project.ID,
		"programs", len(programs),
		"qualified", output.Summary.Qualified,
		"duration_ms", output.DurationMS,
		"partial", partial,
	)
	return output, nil
}

// fanOut evaluates programs across a bounded worker pool. Workers share
// only the read-only EvalInput; results funnel through one mutex.
func (e *Engine) fanOut(ctx context.Context, in EvalInput, programs []IncentiveProgram, cfg EngineConfig) ([]MatchResult, bool) {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > maxFanOut {
			workers = maxFanOut
		}
	}

	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matches []MatchResult
		partial bool
	)

	for i := range programs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline expired: keep what finished, skip the rest.
			partial = true
			e.logger.Warn("evaluation deadline expired, returning partial results",
				"skipped_from", programs[i].ID,
				"error", err.Error(),
			)
			break
		}
		wg.Add(1)
		go func(program *IncentiveProgram) {
			defer wg.Done()
			defer sem.Release(1)
			result := e.evaluateProgram(in, program, cfg)
			if result == nil {
				return
			}
			mu.Lock()
			matches = append(matches, *result)
			mu.Unlock()
		}(&programs[i])
	}
	wg.Wait()

	return matches, partial
}

// evaluateProgram produces one MatchResult, or nil when the program is
// skipped (inactive without IncludeInactive). Rule and interpreter errors
// disqualify the program with a diagnostic; they never propagate.
func (e *Engine) evaluateProgram(in EvalInput, program *IncentiveProgram, cfg EngineConfig) *MatchResult {
	if !cfg.IncludeInactive {
		if !program.Active || !program.WindowContains(in.At) {
			return nil
		}
	}

	result := &MatchResult{
		ProgramID:    program.ID,
		ProgramName:  program.Name,
		Category:     program.Category,
		Jurisdiction: program.Jurisdiction,
		Tier:         TierExplore,
	}
	in.Program = program

	rule, err := program.ActiveRule()
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, err.Error())
		result.Disqualifiers = append(result.Disqualifiers, "no active rule version")
		if e.programFailures != nil {
			e.programFailures.Add(context.Background(), 1)
		}
		return result
	}
	result.RuleID = rule.ID
	result.RuleVersion = rule.Version

	root, err := e.evaluator.Evaluate(&rule.Condition, in)
	if err != nil {
		e.logger.Warn("program disqualified by rule error",
			"program_id", program.ID,
			"rule_id", rule.ID,
			"error", err.Error(),
		)
		result.Diagnostics = append(result.Diagnostics, err.Error())
		result.Disqualifiers = append(result.Disqualifiers, "rule definition error")
		if e.programFailures != nil {
			e.programFailures.Add(context.Background(), 1)
		}
		return result
	}

	breakdown := Score(&root, cfg.IncludeBreakdown)
	result.Breakdown = &breakdown
	result.Qualified = breakdown.Qualified()
	result.WeightedScore = breakdown.WeightedScore
	result.OverallScore = OverallScore(breakdown.WeightedScore)
	result.Tier = TierFor(result.Qualified, breakdown.WeightedScore)
	result.Disqualifiers = append(result.Disqualifiers, breakdown.Disqualifiers...)
	if breakdown.InsufficientData {
		result.Diagnostics = append(result.Diagnostics, ErrInsufficientData.Error())
	}

	result.Value = e.calculator.Calculate(rule, in, cfg.BonusCapPct)

	if e.programsScored != nil {
		e.programsScored.Add(context.Background(), 1)
	}
	return result
}

// assemble ranks, filters, groups, and summarizes the collected results.
func (e *Engine) assemble(project *Project, programs []IncentiveProgram, matches []MatchResult, cfg EngineConfig, at time.Time) *EligibilityOutput {
	// Deterministic ordering regardless of worker scheduling: score
	// descending, program id ascending on ties.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OverallScore != matches[j].OverallScore {
			return matches[i].OverallScore > matches[j].OverallScore
		}
		return matches[i].ProgramID < matches[j].ProgramID
	})

	// Stacking runs across all qualified matches; MinScore and MaxResults
	// shape the returned list only.
	ranked := matches
	evaluated := len(matches)
	if cfg.MinScore > 0 {
		filtered := make([]MatchResult, 0, len(matches))
		for _, m := range matches {
			if m.OverallScore >= cfg.MinScore {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if cfg.MaxResults > 0 && len(matches) > cfg.MaxResults {
		matches = matches[:cfg.MaxResults]
	}

	// Summary and category counts cover the whole evaluation, not the
	// filtered view, so TotalPotentialValue always bounds the stacked
	// value even when MinScore or MaxResults trim the returned list.
	summary := OutputSummary{
		TotalPrograms: len(programs),
		Evaluated:     evaluated,
		ByTier:        make(map[RecommendationTier]int),
	}
	categories := make(map[ProgramCategory][]string)
	for i := range ranked {
		m := &ranked[i]
		summary.ByTier[m.Tier]++
		categories[m.Category] = append(categories[m.Category], m.ProgramID)
		if m.Qualified {
			summary.Qualified++
			summary.TotalPotentialValue += m.EstimatedValue()
		}
	}

	snapshot := SnapshotHash(project)
	output := &EligibilityOutput{
		RunID:         uuid.NewSHA1(runNamespace, []byte(snapshot+at.Format(time.RFC3339))).String(),
		EngineVersion: EngineVersion,
		EvaluatedAt:   time.Now().UTC(),
		SnapshotHash:  snapshot,
		Matches:       matches,
		Categories:    categories,
		Summary:       summary,
	}

	if !cfg.SkipStacking {
		output.Stacking = AnalyzeStacking(ranked, collectStackingRules(programs))
		output.Summary.OptimizedStackValue = output.Stacking.TotalValue
	}
	return output
}

// collectStackingRules gathers the stacking edges from every program's
// active rule, deduplicated by rule id.
func collectStackingRules(programs []IncentiveProgram) []StackingRule {
	var rules []StackingRule
	seen := make(map[string]struct{})
	for i := range programs {
		rule, err := programs[i].ActiveRule()
		if err != nil {
			continue
		}
		for _, sr := range rule.Stacking {
			if _, dup := seen[sr.ID]; dup {
				continue
			}
			seen[sr.ID] = struct{}{}
			rules = append(rules, sr)
		}
	}
	return rules
}

// SnapshotHash returns a stable content hash of the project snapshot.
//
// Callers keying a result cache should combine it with the rule catalog
// version: evaluation output is a pure function of (snapshot, catalog
// version, evaluation date), so rule or project changes are what
// invalidate a cached result, not elapsed time.
func SnapshotHash(project *Project) string {
	raw, err := json.Marshal(project)
	if err != nil {
		// Project is a plain data struct; marshal cannot realistically
		// fail, but never let the hash silently collide.
		return "unhashable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
