package compiler

import (
	"sort"

	"github.com/Lakakaku/alpha-sub015/rule"
)

// OptimizeQuestionGroups keeps only active groups and orders them for
// presentation: ascending by display order, ties broken ascending by
// estimated length (shorter first).
func OptimizeQuestionGroups(groups []rule.QuestionGroup) []rule.QuestionGroup {
	out := make([]rule.QuestionGroup, 0, len(groups))
	for _, g := range groups {
		if g.Active {
			out = append(out, g)
		}
	}

	sort.SliceStable(out, func(i, k int) bool {
		if out[i].DisplayOrder != out[k].DisplayOrder {
			return out[i].DisplayOrder < out[k].DisplayOrder
		}
		return out[i].EstimatedLength < out[k].EstimatedLength
	})

	return out
}

// BuildPriorityMatrix keeps only weights with strictly positive
// effective priority and sorts them descending by priority.
func BuildPriorityMatrix(weights []rule.PriorityWeight) []rule.PriorityWeight {
	out := make([]rule.PriorityWeight, 0, len(weights))
	for _, w := range weights {
		if w.EffectivePriority > 0 {
			out = append(out, w)
		}
	}

	sort.SliceStable(out, func(i, k int) bool {
		return out[i].EffectivePriority > out[k].EffectivePriority
	})

	return out
}
