// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import "math"

// scoredLeaf is one flattened leaf with its propagated, normalized weight.
type scoredLeaf struct {
	result ConditionResult
	weight float64
}

// Score flattens an evaluated condition tree into weighted leaves and
// aggregates them into a MatchBreakdown.
//
// Description:
//
//	A leaf's effective weight is the product of its own weight and its
//	ancestors' propagated weights, normalized across siblings with weight
//	greater than zero at each level. Qualification is binary: any failed
//	required leaf disqualifies, and unknown counts as failed on required
//	leaves (fail closed). The weighted score sums only leaves with a known
//	outcome and positive weight; unknown optional leaves drop out of both
//	the numerator and the denominator. A zero denominator scores 0 and
//	flags insufficient data instead of silently scoring 100%.
//
// Inputs:
//
//	root - The evaluated condition tree. Must not be nil.
//	includeTree - Attach the full result tree to the breakdown.
//
// Outputs:
//
//	MatchBreakdown - Aggregate counts, disqualifiers, and the weighted
//	score in [0,1].
func Score(root *ConditionResult, includeTree bool) MatchBreakdown {
	var leaves []scoredLeaf
	flatten(root, 1.0, &leaves)

	breakdown := MatchBreakdown{}
	if includeTree {
		breakdown.Root = root
	}

	var num, den float64
	for _, leaf := range leaves {
		switch {
		case leaf.result.Unknown:
			breakdown.UnknownCount++
		case leaf.result.Passed:
			breakdown.PassedCount++
		default:
			breakdown.FailedCount++
		}

		if leaf.result.Required && (leaf.result.Unknown || !leaf.result.Passed) {
			reason := leaf.result.Reason
			if reason == "" {
				reason = "required condition not met: " + leafName(leaf.result)
			}
			breakdown.Disqualifiers = append(breakdown.Disqualifiers, reason)
		}

		if leaf.weight <= 0 || leaf.result.Unknown {
			continue
		}
		den += leaf.weight
		if leaf.result.Passed {
			num += leaf.weight
		}
	}

	if den == 0 {
		breakdown.WeightedScore = 0
		breakdown.InsufficientData = true
		return breakdown
	}

	breakdown.WeightedScore = num / den
	return breakdown
}

// flatten walks the result tree, multiplying normalized sibling weights
// down to the leaves. NOT nodes are boolean-only: their subtree does not
// contribute leaves of its own, the NOT node itself is the leaf.
func flatten(node *ConditionResult, propagated float64, out *[]scoredLeaf) {
	if node.Type == ConditionComposite && node.Op != CompositeNot && len(node.Children) > 0 {
		var total float64
		for i := range node.Children {
			if w := node.Children[i].Weight; w > 0 {
				total += w
			}
		}
		for i := range node.Children {
			child := &node.Children[i]
			childShare := 0.0
			if total > 0 && child.Weight > 0 {
				childShare = propagated * (child.Weight / total)
			}
			flatten(child, childShare, out)
		}
		return
	}

	leaf := *node
	leaf.Children = nil
	*out = append(*out, scoredLeaf{result: leaf, weight: propagated})
}

func leafName(r ConditionResult) string {
	if r.Label != "" {
		return r.Label
	}
	if r.Field != "" {
		return r.Field
	}
	return string(r.Type)
}

// OverallScore converts a weighted score in [0,1] to the 0-100 scale.
func OverallScore(weighted float64) int {
	score := int(math.Round(weighted * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TierFor buckets a match into a recommendation tier. Disqualified
// programs always land in explore, whatever their score.
func TierFor(qualified bool, weighted float64) RecommendationTier {
	if !qualified {
		return TierExplore
	}
	switch {
	case weighted >= 0.8:
		return TierHigh
	case weighted >= 0.5:
		return TierMedium
	case weighted >= 0.3:
		return TierLow
	default:
		return TierExplore
	}
}

// Qualified reports whether the breakdown carries no disqualifiers.
func (b *MatchBreakdown) Qualified() bool {
	return len(b.Disqualifiers) == 0
}
