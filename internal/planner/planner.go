// Package planner searches the boundary×granularity lattice for the least
// restrictive feasible cell under the risk scorecard and policy thresholds.
//
// Selection happens in two layers: hard per-tag gates and risk bands derive
// the admissible set; the threshold-gated scalar search (Decide) is the
// default, and when per-granularity observation statistics are available,
// variance-minimizing selection (SelectByVariance) picks within the
// admissible set instead.
package planner

import (
	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
)

// Cell is one (boundary, granularity) pair in the lattice.
type Cell struct {
	Boundary    model.Boundary
	Granularity model.Granularity
}

// utility-preference orders: CENTRAL first (best utility), ITEM first
// (finest release).
var (
	boundaryPreference = []model.Boundary{model.BoundaryCentral, model.BoundaryShuffle, model.BoundaryLocal}
	granPreference     = []model.Granularity{model.GranularityItem, model.GranularityCluster, model.GranularityAggregate}
)

// Decide runs the threshold-gated search: iterate boundaries in utility
// order and granularities finest-first, accept the first cell whose risk
// fits under both its boundary and granularity thresholds. Hard per-tag
// gates prune cells before the scalar comparison.
//
// When nothing is feasible the result is the most conservative cell
// (LOCAL, AGGREGATE) with Feasible=false. Infeasibility is a valid outcome,
// not an error.
func Decide(f *model.FeatureSpec, th model.PolicyThresholds) model.Decision {
	return DecideWith(f, th, lps.Options{})
}

// DecideWith is Decide with optional empirical scoring inputs.
func DecideWith(f *model.FeatureSpec, th model.PolicyThresholds, opts lps.Options) model.Decision {
	hard := lps.EvaluateHardRules(f)

	var fallback *model.Scorecard
	for _, b := range boundaryPreference {
		if hard.DenyBoundaries[b] {
			continue
		}
		for _, g := range granPreference {
			if hard.MinGranularity != "" && !g.AtLeast(hard.MinGranularity) {
				continue
			}
			sc := lps.ComputeWith(f, g, th, opts)
			if fallback == nil {
				scCopy := sc
				fallback = &scCopy
			}
			if lps.FeasibleBoundary(sc, b, th) && lps.FeasibleGranularity(sc, g, th) {
				return model.Decision{
					Boundary:    b,
					Granularity: g,
					Feasible:    true,
					Scorecard:   sc,
					Reason:      model.ReasonFeasible,
					Constraint:  CompileConstraints(f, b, g, th),
				}
			}
		}
	}

	if fallback == nil {
		// Every cell was pruned by hard gates; score the conservative cell
		// so the decision still carries a scorecard.
		sc := lps.ComputeWith(f, model.GranularityAggregate, th, opts)
		fallback = &sc
	}

	return model.Decision{
		Boundary:    model.BoundaryLocal,
		Granularity: model.GranularityAggregate,
		Feasible:    false,
		Scorecard:   *fallback,
		Reason:      model.ReasonNoFeasibleOption,
		Constraint:  CompileConstraints(f, model.BoundaryLocal, model.GranularityAggregate, th),
	}
}

// BandConfig holds the aggregate-risk bands that force a minimum
// granularity when no hard tag rule sets one directly.
type BandConfig struct {
	BandMid  float64 // risk >= BandMid forces at least CLUSTER
	BandHigh float64 // risk >= BandHigh forces AGGREGATE
}

// AdmissibleSet derives the (boundary, granularity) cells not excluded by
// hard policy rules or the minimum-granularity constraint, along with the
// effective minimum granularity.
func AdmissibleSet(f *model.FeatureSpec, risk float64, hard lps.HardRules, bands BandConfig) ([]Cell, model.Granularity) {
	minG := hard.MinGranularity
	if minG == "" {
		switch {
		case risk >= bands.BandHigh:
			minG = model.GranularityAggregate
		case risk >= bands.BandMid:
			minG = model.GranularityCluster
		default:
			minG = model.GranularityItem
		}
	}

	var cells []Cell
	for _, b := range f.Capabilities() {
		if hard.DenyBoundaries[b] {
			continue
		}
		for _, g := range f.Candidates() {
			if !g.AtLeast(minG) {
				continue
			}
			cells = append(cells, Cell{Boundary: b, Granularity: g})
		}
	}
	return cells, minG
}
