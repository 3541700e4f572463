package planner

import (
	"github.com/releasegate/releasegate/internal/model"
)

// CompileConstraints compiles (feature, decision, thresholds) into the
// declarative artifact a downstream planner must honor.
//
//   - ITEM releases carry no grouping restriction.
//   - CLUSTER releases forbid grouping by item-level identifiers and joining
//     on declared join keys, and require pre-aggregation at k_min support.
//   - AGGREGATE releases forbid all grouping keys and all joins.
//
// This function never parses SQL; the output is validated against a plan
// signature by an external gate.
func CompileConstraints(f *model.FeatureSpec, boundary model.Boundary, g model.Granularity, th model.PolicyThresholds) model.PlannerConstraint {
	kMin := th.KMin
	if kMin < 1 {
		kMin = 1
	}

	switch g {
	case model.GranularityItem:
		return model.PlannerConstraint{
			Boundary:              boundary,
			Granularity:           g,
			ForbidGroupByKeys:     model.KeyListOf(),
			ForbidJoinsOn:         model.KeyListOf(),
			MinGroupCardinality:   1,
			RequirePreAggregation: false,
		}
	case model.GranularityCluster:
		return model.PlannerConstraint{
			Boundary:              boundary,
			Granularity:           g,
			ForbidGroupByKeys:     model.KeyList{Keys: f.IdentifierFields()},
			ForbidJoinsOn:         model.KeyList{Keys: f.JoinKeyNames()},
			MinGroupCardinality:   max(kMin, 2),
			RequirePreAggregation: true,
		}
	default: // AGGREGATE
		return model.PlannerConstraint{
			Boundary:              boundary,
			Granularity:           g,
			ForbidGroupByKeys:     model.KeyListAll(),
			ForbidJoinsOn:         model.KeyListAll(),
			MinGroupCardinality:   max(kMin, 2),
			RequirePreAggregation: true,
		}
	}
}
