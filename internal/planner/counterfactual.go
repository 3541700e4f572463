package planner

import (
	"fmt"
	"sort"

	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
)

// Edit label prefixes.
const (
	EditBucketize = "bucketize"
	EditDropField = "drop_field"
)

// Counterfactuals proposes ranked minimal edits that could make targetG
// feasible for the feature: halving declared bucket counts on sensitive
// fields (floor 2), and dropping identifier or sensitive fields outright.
//
// Candidates are sorted feasible-first, then by ascending residual risk.
// Each carries the constraint artifact that would apply if accepted, so a
// reviewer sees risk and operational impact together.
func Counterfactuals(f *model.FeatureSpec, th model.PolicyThresholds, targetG model.Granularity) []model.CounterfactualCandidate {
	type edit struct {
		label string
		spec  *model.FeatureSpec
	}
	var edits []edit

	// Coarsen bucketization on sensitive fields.
	for _, fld := range f.Fields {
		if !fld.IsSensitive {
			continue
		}
		cur, ok := f.Bucketizations[fld.Name]
		if !ok {
			continue
		}
		coarser := cur / 2
		if coarser < 2 {
			coarser = 2
		}
		if coarser == cur {
			continue
		}
		cp := f.Clone()
		cp.Bucketizations[fld.Name] = coarser
		edits = append(edits, edit{
			label: fmt.Sprintf("%s:%s:%d->%d", EditBucketize, fld.Name, cur, coarser),
			spec:  cp,
		})
	}

	// Drop one high-risk dimension.
	for _, fld := range f.Fields {
		if !fld.IsIdentifier && !fld.IsSensitive {
			continue
		}
		cp := f.Clone()
		kept := cp.Fields[:0]
		for _, x := range cp.Fields {
			if x.Name != fld.Name {
				kept = append(kept, x)
			}
		}
		cp.Fields = kept
		delete(cp.Bucketizations, fld.Name)
		edits = append(edits, edit{
			label: fmt.Sprintf("%s:%s", EditDropField, fld.Name),
			spec:  cp,
		})
	}

	out := make([]model.CounterfactualCandidate, 0, len(edits))
	for _, e := range edits {
		sc := lps.Compute(e.spec, targetG, th)
		ok := lps.FeasibleGranularity(sc, targetG, th)

		// Boundary is decided elsewhere; CENTRAL is a neutral default for
		// the hypothetical constraint shown to reviewers.
		out = append(out, model.CounterfactualCandidate{
			Edit:             e.label,
			TargetGran:       targetG,
			FeasibleAtTarget: ok,
			Scorecard:        sc,
			Constraint:       CompileConstraints(e.spec, model.BoundaryCentral, targetG, th),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FeasibleAtTarget != out[j].FeasibleAtTarget {
			return out[i].FeasibleAtTarget
		}
		return out[i].Scorecard.Risk < out[j].Scorecard.Risk
	})
	return out
}
