package model

import (
	"errors"
	"fmt"
	"math"
)

// weightSumTolerance is the allowed deviation of alpha weights from 1.0.
const weightSumTolerance = 1e-9

// PolicyThresholds caps tolerable risk per boundary and granularity and
// weights the four scorecard components. Construct via NewPolicyThresholds;
// a violated invariant fails validation, it is never silently normalized.
type PolicyThresholds struct {
	TauBoundary    map[Boundary]float64    `json:"tau_boundary" yaml:"tau_boundary"`
	TauGranularity map[Granularity]float64 `json:"tau_granularity" yaml:"tau_granularity"`
	KMin           int                     `json:"k_min" yaml:"k_min"`
	AlphaL         float64                 `json:"alpha_l" yaml:"alpha_l"`
	AlphaU         float64                 `json:"alpha_u" yaml:"alpha_u"`
	AlphaI         float64                 `json:"alpha_i" yaml:"alpha_i"`
	AlphaR         float64                 `json:"alpha_r" yaml:"alpha_r"`
}

// NewPolicyThresholds validates and returns an immutable thresholds value.
// All validation failures are collected and returned together.
func NewPolicyThresholds(tauB map[Boundary]float64, tauG map[Granularity]float64, kMin int, aL, aU, aI, aR float64) (PolicyThresholds, error) {
	th := PolicyThresholds{
		TauBoundary:    tauB,
		TauGranularity: tauG,
		KMin:           kMin,
		AlphaL:         aL,
		AlphaU:         aU,
		AlphaI:         aI,
		AlphaR:         aR,
	}
	if err := th.Validate(); err != nil {
		return PolicyThresholds{}, err
	}
	return th, nil
}

// Validate checks every invariant and returns all violations joined.
func (th PolicyThresholds) Validate() error {
	var errs []error

	if th.KMin < 1 {
		errs = append(errs, fmt.Errorf("k_min must be >= 1, got %d", th.KMin))
	}

	for name, a := range map[string]float64{
		"alpha_l": th.AlphaL,
		"alpha_u": th.AlphaU,
		"alpha_i": th.AlphaI,
		"alpha_r": th.AlphaR,
	} {
		if a < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %g", name, a))
		}
	}

	sum := th.AlphaL + th.AlphaU + th.AlphaI + th.AlphaR
	if math.Abs(sum-1.0) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("component weights must sum to 1.0 (±%g), got %g", weightSumTolerance, sum))
	}

	for _, b := range Boundaries {
		tau, ok := th.TauBoundary[b]
		if !ok {
			errs = append(errs, fmt.Errorf("tau_boundary missing entry for %s", b))
			continue
		}
		if tau < 0 || tau > 1 {
			errs = append(errs, fmt.Errorf("tau_boundary[%s] must be in [0,1], got %g", b, tau))
		}
	}
	for _, g := range Granularities {
		tau, ok := th.TauGranularity[g]
		if !ok {
			errs = append(errs, fmt.Errorf("tau_granularity missing entry for %s", g))
			continue
		}
		if tau < 0 || tau > 1 {
			errs = append(errs, fmt.Errorf("tau_granularity[%s] must be in [0,1], got %g", g, tau))
		}
	}

	return errors.Join(errs...)
}

// DefaultPolicyThresholds returns the reference defaults used when no policy
// file supplies thresholds.
func DefaultPolicyThresholds() PolicyThresholds {
	return PolicyThresholds{
		TauBoundary: map[Boundary]float64{
			BoundaryLocal:   0.9,
			BoundaryShuffle: 0.9,
			BoundaryCentral: 0.9,
		},
		TauGranularity: map[Granularity]float64{
			GranularityItem:      0.75,
			GranularityCluster:   0.75,
			GranularityAggregate: 0.75,
		},
		KMin:   100,
		AlphaL: 0.30,
		AlphaU: 0.35,
		AlphaI: 0.25,
		AlphaR: 0.10,
	}
}
