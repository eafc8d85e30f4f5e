// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineVersion identifies the engine build in run metadata.
const EngineVersion = "0.3.0"

// =============================================================================
// Enumerations
// =============================================================================

// JurisdictionLevel identifies the level of government or utility that
// administers a program.
type JurisdictionLevel string

const (
	JurisdictionFederal JurisdictionLevel = "federal"
	JurisdictionState   JurisdictionLevel = "state"
	JurisdictionCounty  JurisdictionLevel = "county"
	JurisdictionCity    JurisdictionLevel = "city"
	JurisdictionUtility JurisdictionLevel = "utility"
)

// ProgramCategory buckets programs for grouping in the output.
type ProgramCategory string

const (
	CategoryTaxCredit ProgramCategory = "tax_credit"
	CategoryRebate    ProgramCategory = "rebate"
	CategoryGrant     ProgramCategory = "grant"
	CategoryLoan      ProgramCategory = "loan"
	CategoryAbatement ProgramCategory = "abatement"
	CategoryOther     ProgramCategory = "other"
)

// ConditionType is the tag of the RuleCondition tagged union. The evaluator
// switches exhaustively over these values; an unrecognized tag is a rule
// definition error, not a silent skip.
type ConditionType string

const (
	ConditionComparison     ConditionType = "comparison"
	ConditionDate           ConditionType = "date"
	ConditionGeographic     ConditionType = "geographic"
	ConditionAffordability  ConditionType = "affordability"
	ConditionSustainability ConditionType = "sustainability"
	ConditionFinancial      ConditionType = "financial"
	ConditionEntity         ConditionType = "entity"
	ConditionTechnology     ConditionType = "technology"
	ConditionBonus          ConditionType = "bonus"
	ConditionStacking       ConditionType = "stacking"
	ConditionComposite      ConditionType = "composite"
	ConditionCustom         ConditionType = "custom"
)

// ComparisonOperator is the operator of a comparison-family condition.
type ComparisonOperator string

const (
	OpEq          ComparisonOperator = "eq"
	OpNeq         ComparisonOperator = "neq"
	OpGt          ComparisonOperator = "gt"
	OpGte         ComparisonOperator = "gte"
	OpLt          ComparisonOperator = "lt"
	OpLte         ComparisonOperator = "lte"
	OpBetween     ComparisonOperator = "between"
	OpIn          ComparisonOperator = "in"
	OpNotIn       ComparisonOperator = "not_in"
	OpContains    ComparisonOperator = "contains"
	OpNotContains ComparisonOperator = "not_contains"
	OpStartsWith  ComparisonOperator = "starts_with"
	OpEndsWith    ComparisonOperator = "ends_with"
	OpMatches     ComparisonOperator = "matches"
	OpExists      ComparisonOperator = "exists"
	OpNotExists   ComparisonOperator = "not_exists"
)

// CompositeOperator combines child conditions in a composite node.
type CompositeOperator string

const (
	CompositeAnd CompositeOperator = "and"
	CompositeOr  CompositeOperator = "or"
	CompositeNot CompositeOperator = "not"
)

// DateAnchor selects the reference point of a date condition.
type DateAnchor string

const (
	// AnchorToday anchors the condition to the evaluation date.
	AnchorToday DateAnchor = "today"

	// AnchorMilestone anchors the condition to a project milestone field
	// (construction start, placed in service, application deadline).
	AnchorMilestone DateAnchor = "milestone"
)

// CalculationMethod selects how a program's value is derived from its basis.
type CalculationMethod string

const (
	MethodFixed      CalculationMethod = "fixed"
	MethodPercentage CalculationMethod = "percentage"
	MethodPerUnit    CalculationMethod = "per_unit"
	MethodPerKW      CalculationMethod = "per_kw"
	MethodPerSqFt    CalculationMethod = "per_sqft"
	MethodTiered     CalculationMethod = "tiered"
	MethodFormula    CalculationMethod = "formula"
)

// StackingEffect is the kind of interaction a stacking rule describes.
type StackingEffect string

const (
	// StackDeny marks two programs as mutually exclusive.
	StackDeny StackingEffect = "deny"

	// StackReduce is directed: selecting ProgramA reduces ProgramB's value
	// by ReductionPct.
	StackReduce StackingEffect = "reduce"

	// StackRequire is directed: ProgramB only counts if ProgramA is also
	// selected.
	StackRequire StackingEffect = "require"
)

// RecommendationTier is a coarse bucket summarizing match strength.
type RecommendationTier string

const (
	TierHigh    RecommendationTier = "high"
	TierMedium  RecommendationTier = "medium"
	TierLow     RecommendationTier = "low"
	TierExplore RecommendationTier = "explore"
)

// =============================================================================
// Project
// =============================================================================

// Project is the immutable snapshot of a capital project being matched.
//
// The engine reads but never mutates a Project. Unset numeric fields are
// zero; the computed-field layer distinguishes "genuinely zero" from
// "missing" per field (ratios with a zero denominator resolve to unknown,
// not zero).
type Project struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Location.
	Address     string `json:"address,omitempty" yaml:"address,omitempty"`
	City        string `json:"city,omitempty" yaml:"city,omitempty"`
	County      string `json:"county,omitempty" yaml:"county,omitempty"`
	State       string `json:"state" yaml:"state" validate:"required,len=2,uppercase"`
	ZipCode     string `json:"zip_code,omitempty" yaml:"zip_code,omitempty" validate:"omitempty,len=5,numeric"`
	CensusTract string `json:"census_tract,omitempty" yaml:"census_tract,omitempty"`

	// Building profile.
	BuildingType string  `json:"building_type,omitempty" yaml:"building_type,omitempty"`
	ProjectType  string  `json:"project_type,omitempty" yaml:"project_type,omitempty"`
	TotalUnits   int     `json:"total_units,omitempty" yaml:"total_units,omitempty" validate:"gte=0"`
	SquareFeet   float64 `json:"square_feet,omitempty" yaml:"square_feet,omitempty" validate:"gte=0"`

	// Affordability.
	AffordableUnits int `json:"affordable_units,omitempty" yaml:"affordable_units,omitempty" validate:"gte=0"`

	// Costs, in whole dollars.
	TotalDevelopmentCost float64 `json:"total_development_cost,omitempty" yaml:"total_development_cost,omitempty" validate:"gte=0"`
	EligibleBasis        float64 `json:"eligible_basis,omitempty" yaml:"eligible_basis,omitempty" validate:"gte=0"`

	// Sustainability commitments.
	SolarCapacityKW    float64  `json:"solar_capacity_kw,omitempty" yaml:"solar_capacity_kw,omitempty" validate:"gte=0"`
	EnergyReductionPct float64  `json:"energy_reduction_pct,omitempty" yaml:"energy_reduction_pct,omitempty" validate:"gte=0,lte=100"`
	Certifications     []string `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	PrevailingWage     bool     `json:"prevailing_wage,omitempty" yaml:"prevailing_wage,omitempty"`
	DomesticContent    bool     `json:"domestic_content,omitempty" yaml:"domestic_content,omitempty"`

	// Entity.
	OwnerEntityType string `json:"owner_entity_type,omitempty" yaml:"owner_entity_type,omitempty"`
	TaxExempt       bool   `json:"tax_exempt,omitempty" yaml:"tax_exempt,omitempty"`

	// Timeline. Nil means the milestone is not yet scheduled.
	ConstructionStart   *time.Time `json:"construction_start,omitempty" yaml:"construction_start,omitempty"`
	PlacedInService     *time.Time `json:"placed_in_service,omitempty" yaml:"placed_in_service,omitempty"`
	ApplicationDeadline *time.Time `json:"application_deadline,omitempty" yaml:"application_deadline,omitempty"`

	// Attributes carries free-form extra fields addressable by conditions
	// under their raw name.
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// MilestoneDate returns the named milestone, or nil if unscheduled.
func (p *Project) MilestoneDate(field string) *time.Time {
	switch field {
	case FieldConstructionStart:
		return p.ConstructionStart
	case FieldPlacedInService:
		return p.PlacedInService
	case FieldApplicationDeadline:
		return p.ApplicationDeadline
	default:
		return nil
	}
}

// =============================================================================
// Conditions
// =============================================================================

// RuleCondition is one node of a program's condition tree.
//
// The tree is a closed tagged union: Type selects which of the variant
// field groups below is meaningful. Composite nodes own their children;
// every other type is a leaf. Leaves carry a weight in [0,1] and a required
// flag; a failed required leaf disqualifies the program outright, while
// optional leaves only move the weighted score.
type RuleCondition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// Label names the condition in diagnostics and breakdowns. Optional;
	// falls back to Type/Field.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Weight of this node toward its parent, in [0,1]. A composite node's
	// effective weight toward the root is the product of its own weight
	// and its parent's propagated weight, normalized across siblings.
	Weight float64 `json:"weight" yaml:"weight"`

	// Required marks the condition as an absolute gate.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Comparison family (comparison, affordability, sustainability,
	// financial, entity, technology, bonus, stacking).
	Field    string             `json:"field,omitempty" yaml:"field,omitempty"`
	Operator ComparisonOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any                `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []any              `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern  string             `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Date.
	Anchor     DateAnchor `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	DateField  string     `json:"date_field,omitempty" yaml:"date_field,omitempty"`
	WithinDays int        `json:"within_days,omitempty" yaml:"within_days,omitempty"`
	NotBefore  *time.Time `json:"not_before,omitempty" yaml:"not_before,omitempty"`
	NotAfter   *time.Time `json:"not_after,omitempty" yaml:"not_after,omitempty"`
	IsActive   bool       `json:"is_active,omitempty" yaml:"is_active,omitempty"`

	// Geographic.
	States       []string `json:"states,omitempty" yaml:"states,omitempty"`
	Counties     []string `json:"counties,omitempty" yaml:"counties,omitempty"`
	Cities       []string `json:"cities,omitempty" yaml:"cities,omitempty"`
	ZipCodes     []string `json:"zip_codes,omitempty" yaml:"zip_codes,omitempty"`
	CensusTracts []string `json:"census_tracts,omitempty" yaml:"census_tracts,omitempty"`
	Designation  string   `json:"designation,omitempty" yaml:"designation,omitempty"`

	// AllowFederal makes the geographic condition pass unconditionally for
	// federal programs: federal programs are location-agnostic.
	AllowFederal bool `json:"allow_federal,omitempty" yaml:"allow_federal,omitempty"`

	// Composite.
	Op       CompositeOperator `json:"op,omitempty" yaml:"op,omitempty"`
	Children []RuleCondition   `json:"children,omitempty" yaml:"children,omitempty"`

	// Custom: a restricted arithmetic/comparison expression over the
	// whitelisted computed fields. Parsed and interpreted, never eval'd.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// UnmarshalYAML validates the condition tag on load so that a bad catalog
// file fails at parse time, not mid-evaluation.
func (t *ConditionType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	ct := ConditionType(s)
	switch ct {
	case ConditionComparison, ConditionDate, ConditionGeographic,
		ConditionAffordability, ConditionSustainability, ConditionFinancial,
		ConditionEntity, ConditionTechnology, ConditionBonus,
		ConditionStacking, ConditionComposite, ConditionCustom:
		*t = ct
		return nil
	default:
		return fmt.Errorf("invalid condition type: %q", s)
	}
}

// UnmarshalYAML validates calculation methods at catalog load time.
func (m *CalculationMethod) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	cm := CalculationMethod(s)
	switch cm {
	case MethodFixed, MethodPercentage, MethodPerUnit, MethodPerKW,
		MethodPerSqFt, MethodTiered, MethodFormula:
		*m = cm
		return nil
	default:
		return fmt.Errorf("invalid calculation method: %q", s)
	}
}

// =============================================================================
// Programs and Rules
// =============================================================================

// ValueTier is one marginal bracket of a tiered calculation. Tiers are
// sorted by threshold ascending; each tier's rate applies only to the
// portion of the basis above its threshold and below the next.
type ValueTier struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Rate      float64 `json:"rate" yaml:"rate"`
}

// BonusAdder is a percentage increment gated by its own condition tree.
type BonusAdder struct {
	ID         string        `json:"id" yaml:"id"`
	Label      string        `json:"label,omitempty" yaml:"label,omitempty"`
	Percentage float64       `json:"percentage" yaml:"percentage"`
	Condition  RuleCondition `json:"condition" yaml:"condition"`
}

// ValueCalculation configures how a program's estimated value is derived.
type ValueCalculation struct {
	Method CalculationMethod `json:"method" yaml:"method"`

	// BasisField names the project or computed field supplying the basis
	// (e.g. total_development_cost, total_units, solar_capacity_kw).
	BasisField string `json:"basis_field,omitempty" yaml:"basis_field,omitempty"`

	BaseAmount float64     `json:"base_amount,omitempty" yaml:"base_amount,omitempty"`
	Percentage float64     `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Rate       float64     `json:"rate,omitempty" yaml:"rate,omitempty"`
	Tiers      []ValueTier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	Formula    string      `json:"formula,omitempty" yaml:"formula,omitempty"`

	// BonusOnBase applies bonus percentages to the calculated base value
	// instead of the raw basis.
	BonusOnBase bool `json:"bonus_on_base,omitempty" yaml:"bonus_on_base,omitempty"`

	// BonusCapPct caps the combined bonus percentage for this program,
	// overriding the engine-level default. Nil means no per-program cap.
	BonusCapPct *float64 `json:"bonus_cap_pct,omitempty" yaml:"bonus_cap_pct,omitempty"`

	// MinValue/MaxValue clamp the post-bonus total and, when set, bound
	// the low/high uncertainty band directly.
	MinValue *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
}

// EligibilityRule is one versioned rule for a program: a root condition
// tree, a value calculation, bonus adders, and stacking edges. Only the
// active rule with the highest priority is evaluated.
type EligibilityRule struct {
	ID        string           `json:"id" yaml:"id"`
	Version   int              `json:"version" yaml:"version"`
	Priority  int              `json:"priority" yaml:"priority"`
	Active    bool             `json:"active" yaml:"active"`
	Condition RuleCondition    `json:"condition" yaml:"condition"`
	Value     ValueCalculation `json:"value" yaml:"value"`
	Bonuses   []BonusAdder     `json:"bonuses,omitempty" yaml:"bonuses,omitempty"`
	Stacking  []StackingRule   `json:"stacking,omitempty" yaml:"stacking,omitempty"`
}

// IncentiveProgram is one catalog entry: program identity plus its rule
// versions.
type IncentiveProgram struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Authority    string            `json:"authority,omitempty" yaml:"authority,omitempty"`
	Category     ProgramCategory   `json:"category" yaml:"category"`
	Jurisdiction JurisdictionLevel `json:"jurisdiction" yaml:"jurisdiction"`
	Active       bool              `json:"active" yaml:"active"`

	// Program window. Nil bounds are open.
	WindowStart *time.Time `json:"window_start,omitempty" yaml:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty" yaml:"window_end,omitempty"`

	// DataConfidence is the catalog's own confidence in this program's
	// data, in [0,1]. Feeds the value confidence measure.
	DataConfidence float64 `json:"data_confidence,omitempty" yaml:"data_confidence,omitempty"`

	Rules []EligibilityRule `json:"rules" yaml:"rules"`
}

// ActiveRule returns the active rule with the highest priority, or an
// error if no rule version is active. Ties break on version descending so
// re-publishing a rule at the same priority supersedes the older version.
func (p *IncentiveProgram) ActiveRule() (*EligibilityRule, error) {
	var best *EligibilityRule
	for i := range p.Rules {
		r := &p.Rules[i]
		if !r.Active {
			continue
		}
		if best == nil || r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.Version > best.Version) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveRule, p.ID)
	}
	return best, nil
}

// WindowContains reports whether the program window covers the given date.
// Open bounds always pass.
func (p *IncentiveProgram) WindowContains(at time.Time) bool {
	if p.WindowStart != nil && at.Before(*p.WindowStart) {
		return false
	}
	if p.WindowEnd != nil && at.After(*p.WindowEnd) {
		return false
	}
	return true
}

// =============================================================================
// Stacking
// =============================================================================

// StackingRule is one compatibility edge between two programs.
type StackingRule struct {
	ID       string         `json:"id" yaml:"id"`
	ProgramA string         `json:"program_a" yaml:"program_a"`
	ProgramB string         `json:"program_b" yaml:"program_b"`
	Effect   StackingEffect `json:"effect" yaml:"effect"`

	// ReductionPct applies to reduce edges: selecting ProgramA reduces
	// ProgramB's value by this fraction in [0,1].
	ReductionPct float64 `json:"reduction_pct,omitempty" yaml:"reduction_pct,omitempty"`

	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// StackAdjustment records a reduce edge applied to a selected program.
type StackAdjustment struct {
	ProgramID     string  `json:"program_id"`
	RuleID        string  `json:"rule_id"`
	OriginalValue float64 `json:"original_value"`
	AdjustedValue float64 `json:"adjusted_value"`
}

// StackConflict records a program excluded from the recommended stack.
type StackConflict struct {
	ProgramID string `json:"program_id"`
	RuleID    string `json:"rule_id,omitempty"`
	Reason    string `json:"reason"`
}

// StackingAnalysisResult is the resolved, conflict-free recommended subset.
type StackingAnalysisResult struct {
	Recommended  []string          `json:"recommended"`
	TotalValue   float64           `json:"total_value"`
	Adjustments  []StackAdjustment `json:"adjustments,omitempty"`
	Conflicts    []StackConflict   `json:"conflicts,omitempty"`
	AppliedRules []string          `json:"applied_rules,omitempty"`
}

// =============================================================================
// Results
// =============================================================================

// ConditionResult is the evaluation outcome of one condition node.
// Unknown=true means the condition could not be decided from the available
// data; Passed is meaningless in that case.
type ConditionResult struct {
	Type     ConditionType     `json:"type"`
	Op       CompositeOperator `json:"op,omitempty"`
	Label    string            `json:"label,omitempty"`
	Field    string            `json:"field,omitempty"`
	Passed   bool              `json:"passed"`
	Unknown  bool              `json:"unknown,omitempty"`
	Required bool              `json:"required,omitempty"`
	Weight   float64           `json:"weight"`
	Reason   string            `json:"reason,omitempty"`
	Children []ConditionResult `json:"children,omitempty"`
}

// MatchBreakdown aggregates the evaluated condition tree.
type MatchBreakdown struct {
	Root             *ConditionResult `json:"root,omitempty"`
	PassedCount      int              `json:"passed_count"`
	FailedCount      int              `json:"failed_count"`
	UnknownCount     int              `json:"unknown_count"`
	Disqualifiers    []string         `json:"disqualifiers,omitempty"`
	WeightedScore    float64          `json:"weighted_score"`
	InsufficientData bool             `json:"insufficient_data,omitempty"`
}

// BonusApplied records one bonus adder's contribution to a value.
type BonusApplied struct {
	ID         string  `json:"id"`
	Label      string  `json:"label,omitempty"`
	Percentage float64 `json:"percentage"`
	Qualified  bool    `json:"qualified"`
	Amount     float64 `json:"amount"`
}

// ValueBreakdown is the calculated value with its derivation steps.
type ValueBreakdown struct {
	Method     CalculationMethod `json:"method"`
	BasisField string            `json:"basis_field,omitempty"`
	Basis      float64           `json:"basis"`
	BasisKnown bool              `json:"basis_known"`
	BaseValue  float64           `json:"base_value"`

	Bonuses    []BonusApplied `json:"bonuses,omitempty"`
	BonusTotal float64        `json:"bonus_total"`
	CapApplied bool           `json:"cap_applied,omitempty"`
	Clamped    bool           `json:"clamped,omitempty"`

	FinalValue float64 `json:"final_value"`
	ValueLow   float64 `json:"value_low"`
	ValueHigh  float64 `json:"value_high"`

	// Confidence in [0,1]: fraction of known inputs blended with the
	// program's own data confidence. Lower confidence widens the band.
	Confidence float64 `json:"confidence"`

	Steps       []string `json:"steps,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// MatchResult is the full per-program outcome: one per (project, program)
// pair per evaluation.
type MatchResult struct {
	ProgramID     string             `json:"program_id"`
	ProgramName   string             `json:"program_name"`
	Category      ProgramCategory    `json:"category"`
	Jurisdiction  JurisdictionLevel  `json:"jurisdiction"`
	RuleID        string             `json:"rule_id,omitempty"`
	RuleVersion   int                `json:"rule_version,omitempty"`
	Qualified     bool               `json:"qualified"`
	WeightedScore float64            `json:"weighted_score"`
	OverallScore  int                `json:"overall_score"`
	Tier          RecommendationTier `json:"tier"`

	Breakdown *MatchBreakdown `json:"breakdown,omitempty"`
	Value     *ValueBreakdown `json:"value,omitempty"`

	Disqualifiers []string `json:"disqualifiers,omitempty"`
	Diagnostics   []string `json:"diagnostics,omitempty"`
}

// EstimatedValue returns the final calculated value, or 0 when no value
// could be computed.
func (m *MatchResult) EstimatedValue() float64 {
	if m.Value == nil {
		return 0
	}
	return m.Value.FinalValue
}

// OutputSummary carries aggregate counts for one evaluation run.
type OutputSummary struct {
	TotalPrograms       int                        `json:"total_programs"`
	Evaluated           int                        `json:"evaluated"`
	Qualified           int                        `json:"qualified"`
	ByTier              map[RecommendationTier]int `json:"by_tier"`
	TotalPotentialValue float64                    `json:"total_potential_value"`
	OptimizedStackValue float64                    `json:"optimized_stack_value"`
}

// EligibilityOutput is the top-level immutable result of one evaluation.
type EligibilityOutput struct {
	RunID          string                       `json:"run_id"`
	EngineVersion  string                       `json:"engine_version"`
	EvaluatedAt    time.Time                    `json:"evaluated_at"`
	DurationMS     int64                        `json:"duration_ms"`
	Partial        bool                         `json:"partial,omitempty"`
	SnapshotHash   string                       `json:"snapshot_hash"`
	CatalogVersion string                       `json:"catalog_version,omitempty"`
	Matches        []MatchResult                `json:"matches"`
	Categories     map[ProgramCategory][]string `json:"categories,omitempty"`
	Stacking       *StackingAnalysisResult      `json:"stacking,omitempty"`
	Summary        OutputSummary                `json:"summary"`
}

// =============================================================================
// Engine configuration
// =============================================================================

// EngineConfig controls one evaluation run. The zero value is usable;
// DefaultEngineConfig fills in the recommended defaults.
type EngineConfig struct {
	// IncludeInactive evaluates programs whose catalog entry or window is
	// inactive at the evaluation date.
	IncludeInactive bool `json:"include_inactive,omitempty"`

	// MinScore filters results below this overall score (0-100).
	MinScore int `json:"min_score,omitempty" validate:"gte=0,lte=100"`

	// MaxResults truncates the ranked result list. 0 means unlimited.
	MaxResults int `json:"max_results,omitempty" validate:"gte=0"`

	// IncludeBreakdown attaches the full evaluated condition tree to each
	// MatchResult instead of the summary counts alone.
	IncludeBreakdown bool `json:"include_breakdown,omitempty"`

	// SkipStacking skips the stacking pass for speed.
	SkipStacking bool `json:"skip_stacking,omitempty"`

	// EvaluationDate overrides "now" for deterministic runs. Zero means
	// the wall clock at call time.
	EvaluationDate time.Time `json:"evaluation_date,omitempty"`

	// Context supplies extra computed-field overrides, keyed by field
	// name. Overrides win over derived values.
	Context map[string]any `json:"context,omitempty"`

	// BonusCapPct is the engine-level combined-bonus ceiling, as a
	// fraction of the bonus basis. Nil means uncapped. Per-program caps
	// override it.
	BonusCapPct *float64 `json:"bonus_cap_pct,omitempty"`

	// MaxWorkers bounds the evaluation fan-out. 0 means NumCPU, capped
	// at 8.
	MaxWorkers int `json:"max_workers,omitempty" validate:"gte=0"`

	// Timeout bounds the whole evaluation. On expiry completed results
	// are kept and the output carries Partial=true. 0 means no deadline
	// beyond the caller's context.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultEngineConfig returns the recommended defaults: breakdowns off,
// stacking on, 30-second deadline.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timeout: 30 * time.Second,
	}
}
