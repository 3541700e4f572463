package planner

import (
	"sort"

	"github.com/releasegate/releasegate/internal/model"
)

// StatsProvider supplies observation statistics for a cell granularity, or
// nil when no snapshot exists. Implemented by the store; a map suffices in
// tests.
type StatsProvider interface {
	Stats(featureID, windowID string, g model.Granularity) *model.StatsSnapshot
}

// VarianceConfig parameterizes the variance-minimizing selection.
type VarianceConfig struct {
	Sigma               float64 // DP noise multiplier used in effective variance
	MinSupportThreshold int64   // cells below this observed support are skipped
}

// Selection is the outcome of variance-minimizing selection over the
// admissible set.
type Selection struct {
	Boundary    model.Boundary
	Granularity model.Granularity
	EffVariance float64
	ReasonCodes []string
}

// SelectByVariance picks, among admissible cells with sufficient observed
// support, the cell with minimum effective variance. Ties break first
// toward the finest granularity, then toward the lowest-risk boundary
// (LOCAL < SHUFFLE < CENTRAL).
//
// When no admissible cell has sufficient support, the fallback is the
// coarsest admissible granularity paired with the safest boundary that
// supports it, flagged NO_FEASIBLE_STATS_FALLBACK_COARSE.
func SelectByVariance(f *model.FeatureSpec, admissible []Cell, windowID string, stats StatsProvider, cfg VarianceConfig) Selection {
	type scored struct {
		cell   Cell
		effVar float64
	}
	var candidates []scored

	for _, cell := range admissible {
		s := stats.Stats(f.FeatureID, windowID, cell.Granularity)
		if s == nil {
			continue
		}
		if s.MinSupportEst < cfg.MinSupportThreshold {
			continue
		}
		candidates = append(candidates, scored{cell: cell, effVar: EffectiveVariance(f.QueryType, s, cfg.Sigma)})
	}

	if len(candidates) == 0 {
		return fallbackCoarse(admissible)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.effVar != b.effVar {
			return a.effVar < b.effVar
		}
		if a.cell.Granularity.Rank() != b.cell.Granularity.Rank() {
			return a.cell.Granularity.Rank() < b.cell.Granularity.Rank()
		}
		return a.cell.Boundary.Rank() < b.cell.Boundary.Rank()
	})

	best := candidates[0]
	return Selection{
		Boundary:    best.cell.Boundary,
		Granularity: best.cell.Granularity,
		EffVariance: best.effVar,
		ReasonCodes: []string{model.ReasonMinEffVarSelected, "TIEBREAK_FINEST_THEN_SAFEST"},
	}
}

// EffectiveVariance estimates the total release variance for a cell:
// DP noise variance plus the sampling proxy. Mean-type queries scale noise
// by 1/N², count-type by 1/N.
func EffectiveVariance(qt model.QueryType, s *model.StatsSnapshot, sigma float64) float64 {
	n := float64(s.NObs)
	if n < 1 {
		n = 1
	}
	if qt == model.QueryCount {
		return (sigma * sigma) / n
	}
	varDP := (sigma * sigma) / (n * n)
	sampling := s.ApproxVariance
	if sampling < 0 {
		sampling = 0
	}
	return varDP + sampling
}

func fallbackCoarse(admissible []Cell) Selection {
	grans := make([]model.Granularity, 0, len(admissible))
	for _, c := range admissible {
		grans = append(grans, c.Granularity)
	}
	gStar := model.Coarsest(grans)

	bStar := model.BoundaryCentral
	found := false
	for _, c := range admissible {
		if c.Granularity != gStar {
			continue
		}
		if !found || c.Boundary.Rank() < bStar.Rank() {
			bStar = c.Boundary
			found = true
		}
	}
	if !found {
		bStar = model.BoundaryLocal
	}
	return Selection{
		Boundary:    bStar,
		Granularity: gStar,
		ReasonCodes: []string{model.ReasonStatsFallbackCoarse},
	}
}
