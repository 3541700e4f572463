// Package lps computes the four-component risk scorecard for a feature:
// Linkability, Uniqueness, Inferability, and Policy penalty.
//
// Scoring is pure and deterministic — same inputs always yield the same
// scorecard — so audits can reproduce any historical decision. Nothing here
// touches I/O or shared state.
package lps

import (
	"fmt"
	"math"
	"sort"

	"github.com/releasegate/releasegate/internal/model"
)

// Reason codes raised during scoring.
const (
	CodeStableIDPresent        = "STABLE_ID_PRESENT"
	CodeLongRetention          = "LONG_RETENTION"
	CodeMissingStatsUniq       = "MISSING_STATS_CONSERVATIVE_UNIQ"
	CodeZeroObsUniq            = "ZERO_OBS_CONSERVATIVE_UNIQ"
	CodeLowMinSupport          = "LOW_MIN_SUPPORT"
	CodeMissingProbeInfer      = "MISSING_PROBE_CONSERVATIVE_INFER"
	CodeHighInferPrefix        = "HIGH_INFER:"
	CodeDenyCentralPreciseLoc  = "POLICY_DENY:CENTRAL_FOR_PRECISE_LOCATION"
	CodeMinClusterDemographics = "POLICY_MIN_GRANULARITY:CLUSTER_FOR_DEMOGRAPHICS"
)

// highInferThreshold flags per-attribute probe risk worth a reason code.
const highInferThreshold = 0.7

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Linkability scores stable join surfaces. Each join key contributes
// 0.8·stability + 0.2·sqrt(ndv)/1000; the mean is scaled by retention
// because longer TTL allows more time to correlate. No join keys means L=0.
func Linkability(f *model.FeatureSpec) (float64, []model.Contribution) {
	if len(f.JoinKeys) == 0 {
		return 0, nil
	}

	var contrib []model.Contribution
	total := 0.0
	for _, jk := range f.JoinKeys {
		ndvFactor := 0.0
		if jk.NDVHint > 0 {
			ndvFactor = math.Min(1.0, math.Sqrt(float64(jk.NDVHint))/1000.0)
		}
		c := 0.8*clamp01(jk.Stability) + 0.2*clamp01(ndvFactor)
		contrib = append(contrib, model.Contribution{Source: jk.Name, Value: c})
		total += c
	}

	ttlFactor := clamp01(float64(f.TTLDays) / 90.0)
	l := clamp01((total / float64(len(f.JoinKeys))) * (0.7 + 0.3*ttlFactor))
	return l, contrib
}

// Uniqueness scores small-cell exposure at granularity g. With a known
// support hint the risk is k_min relative to support; cold start falls back
// to a sparsity-pressure approximation over the schema.
func Uniqueness(f *model.FeatureSpec, g model.Granularity, kMin int) (float64, []model.Contribution) {
	if support := f.Support(g); support > 0 {
		ratio := float64(support) / float64(kMin)
		u := clamp01(1.0 / math.Max(1.0, ratio))
		return u, []model.Contribution{{Source: "support_hint", Value: u}}
	}

	var contrib []model.Contribution
	pressure := 0.0
	for _, fld := range f.Fields {
		var c float64
		switch {
		case fld.IsIdentifier:
			c = 1.0
		case bucketCount(f, fld.Name) > 0:
			c = clamp01(float64(bucketCount(f, fld.Name)) / 200.0)
		case fld.CardinalityHint > 0:
			c = clamp01(math.Sqrt(float64(fld.CardinalityHint)) / 200.0)
		default:
			// Unknown dimension: moderate.
			c = 0.15
		}
		pressure += c
		contrib = append(contrib, model.Contribution{Source: fld.Name, Value: c})
	}

	u := clamp01((pressure / math.Max(1, float64(len(f.Fields)))) * granularityFactor(g))
	return u, contrib
}

// granularityFactor discounts sparsity pressure as cells coarsen.
func granularityFactor(g model.Granularity) float64 {
	switch g {
	case model.GranularityItem:
		return 1.0
	case model.GranularityCluster:
		return 0.6
	default:
		return 0.25
	}
}

func bucketCount(f *model.FeatureSpec, field string) int {
	if f.Bucketizations == nil {
		return 0
	}
	return f.Bucketizations[field]
}

// Inferability scores proxy leakage toward sensitive attributes.
//
// When a probe result is available, the empirical measurement wins: risk is
// clamp01(2·(AUC−0.5)) per attribute, taking the maximum. Without a probe,
// a conservative heuristic over declared sensitive fields applies.
func Inferability(f *model.FeatureSpec, probe *model.ProbeResult) (float64, []model.Contribution, []string) {
	if probe != nil && len(probe.Metrics) > 0 {
		return inferFromProbe(probe)
	}

	var sens []model.FieldSpec
	for _, fld := range f.Fields {
		if fld.IsSensitive {
			sens = append(sens, fld)
		}
	}
	if len(sens) == 0 {
		return 0.05, []model.Contribution{{Source: "no_sensitive_declared", Value: 0.05}}, nil
	}

	var contrib []model.Contribution
	base := 0.15 + 0.12*math.Min(5, float64(len(sens)))
	for _, fld := range sens {
		c := 0.25
		if buckets := bucketCount(f, fld.Name); buckets > 0 {
			c = clamp01(0.15 + float64(buckets)/500.0)
		}
		contrib = append(contrib, model.Contribution{Source: fld.Name, Value: c})
		base += 0.05 * c
	}

	// Join keys amplify inferability through cross-table enrichment.
	jkAmp := 0.0
	if len(f.JoinKeys) > 0 {
		sum := 0.0
		for _, jk := range f.JoinKeys {
			sum += jk.Stability
		}
		jkAmp = 0.15 * clamp01(sum/float64(len(f.JoinKeys)))
	}
	return clamp01(base + jkAmp), contrib, nil
}

func inferFromProbe(probe *model.ProbeResult) (float64, []model.Contribution, []string) {
	attrs := make([]string, 0, len(probe.Metrics))
	for a := range probe.Metrics {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)

	var contrib []model.Contribution
	var codes []string
	best := 0.0
	for _, attr := range attrs {
		r := AUCToRisk(probe.Metrics[attr])
		contrib = append(contrib, model.Contribution{Source: attr, Value: r})
		if r > best {
			best = r
		}
		if r > highInferThreshold {
			codes = append(codes, CodeHighInferPrefix+attr)
		}
	}
	return best, contrib, codes
}

// AUCToRisk maps an attacker-model AUC to [0,1] risk: 0 at AUC=0.5
// (no better than chance), 1 at AUC=1.0.
func AUCToRisk(auc float64) float64 {
	return clamp01(2.0 * (auc - 0.5))
}

// tagWeights are the fixed policy-penalty weights per declared tag.
// Unrecognized tags contribute defaultTagWeight.
var tagWeights = map[string]float64{
	"health":           0.50,
	"precise_location": 0.45,
	"financial":        0.40,
	"children":         0.60,
	"age":              0.20,
	"gender":           0.15,
	"location":         0.20,
}

const defaultTagWeight = 0.10

// PolicyPenalty sums fixed per-tag weights, clamped to [0,1]. Hard rules
// (boundary denies, forced minimum granularity) are not folded into the
// scalar — see HardRules.
func PolicyPenalty(f *model.FeatureSpec) (float64, []model.Contribution) {
	var contrib []model.Contribution
	penalty := 0.0
	for _, tag := range f.PolicyTags {
		w, ok := tagWeights[tag]
		if !ok {
			w = defaultTagWeight
		}
		contrib = append(contrib, model.Contribution{Source: tag, Value: w})
		penalty += w
	}
	return clamp01(penalty), contrib
}

// HardRules are boolean policy gates applied outside the scalar risk model.
type HardRules struct {
	DenyBoundaries map[model.Boundary]bool
	MinGranularity model.Granularity // zero value = no forced minimum
	ReasonCodes    []string
}

// EvaluateHardRules derives the hard per-tag gates for a feature. A
// precise_location tag hard-denies CENTRAL; demographics forces a minimum
// granularity of CLUSTER.
func EvaluateHardRules(f *model.FeatureSpec) HardRules {
	hr := HardRules{DenyBoundaries: map[model.Boundary]bool{}}
	if f.HasTag("precise_location") {
		hr.DenyBoundaries[model.BoundaryCentral] = true
		hr.ReasonCodes = append(hr.ReasonCodes, CodeDenyCentralPreciseLoc)
	}
	if f.HasTag("demographics") {
		hr.MinGranularity = model.GranularityCluster
		hr.ReasonCodes = append(hr.ReasonCodes, CodeMinClusterDemographics)
	}
	return hr
}

// Options carries optional empirical inputs to scoring.
//
// StatsDriven switches uniqueness from the catalog-hint estimate to the
// observation snapshot in Stats. A stats-driven score with a nil snapshot
// takes the conservative maximum, failing closed.
type Options struct {
	Probe       *model.ProbeResult
	Stats       *model.StatsSnapshot
	StatsDriven bool
}

// Compute builds the full scorecard for a feature at granularity g.
func Compute(f *model.FeatureSpec, g model.Granularity, th model.PolicyThresholds) model.Scorecard {
	return ComputeWith(f, g, th, Options{})
}

// ComputeWith builds the scorecard using any supplied empirical inputs.
func ComputeWith(f *model.FeatureSpec, g model.Granularity, th model.PolicyThresholds, opts Options) model.Scorecard {
	var codes []string

	l, cL := Linkability(f)
	for _, jk := range f.JoinKeys {
		if jk.Name == "user_id" || jk.Name == "device_id" {
			codes = append(codes, CodeStableIDPresent)
			break
		}
	}
	if clamp01(float64(f.TTLDays)/90.0) > 0.7 {
		codes = append(codes, CodeLongRetention)
	}

	var u float64
	var cU []model.Contribution
	if opts.StatsDriven {
		var uCodes []string
		u, uCodes = ConservativeUniqueness(opts.Stats, th.KMin)
		codes = append(codes, uCodes...)
		cU = []model.Contribution{{Source: "stats_min_support", Value: u}}
	} else {
		u, cU = Uniqueness(f, g, th.KMin)
	}
	i, cI, inferCodes := Inferability(f, opts.Probe)
	codes = append(codes, inferCodes...)
	r, cR := PolicyPenalty(f)

	risk := clamp01(th.AlphaL*l + th.AlphaU*u + th.AlphaI*i + th.AlphaR*r)
	return model.Scorecard{
		L: l, U: u, I: i, R: r, Risk: risk,
		Contributors: map[string][]model.Contribution{
			"L": cL, "U": cU, "I": cI, "R": cR,
		},
		ReasonCodes: codes,
	}
}

// FeasibleBoundary reports whether the scorecard risk fits under the
// boundary's threshold.
func FeasibleBoundary(sc model.Scorecard, b model.Boundary, th model.PolicyThresholds) bool {
	return sc.Risk <= th.TauBoundary[b]
}

// FeasibleGranularity reports whether the scorecard risk fits under the
// granularity's threshold.
func FeasibleGranularity(sc model.Scorecard, g model.Granularity, th model.PolicyThresholds) bool {
	return sc.Risk <= th.TauGranularity[g]
}

// ConservativeUniqueness is the uniqueness used by the stats-driven path:
// a min-support proxy over the observation snapshot. A missing or empty
// snapshot scores the maximum with a reason code, failing closed; observed
// support under the k_min floor is flagged LOW_MIN_SUPPORT.
func ConservativeUniqueness(stats *model.StatsSnapshot, kMin int) (float64, []string) {
	if stats == nil {
		return 1.0, []string{CodeMissingStatsUniq}
	}
	if stats.NObs <= 0 {
		return 1.0, []string{CodeZeroObsUniq}
	}
	u := clamp01(1.0 - math.Log(1+float64(stats.MinSupportEst))/math.Log(1+math.Max(1, float64(stats.NObs))))
	var codes []string
	if stats.MinSupportEst < int64(kMin) {
		codes = append(codes, CodeLowMinSupport)
	}
	return u, codes
}

// Summary renders a compact one-line summary, used by CLI output.
func Summary(sc model.Scorecard) string {
	return fmt.Sprintf("L=%.3f U=%.3f I=%.3f R=%.3f risk=%.3f", sc.L, sc.U, sc.I, sc.R, sc.Risk)
}
