package planner

import (
	"testing"

	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
)

func defaults() model.PolicyThresholds {
	return model.DefaultPolicyThresholds()
}

func mildFeature() *model.FeatureSpec {
	return &model.FeatureSpec{
		FeatureID:      "campaign_ctr",
		FeatureVersion: "v1",
		Fields: []model.FieldSpec{
			{Name: "campaign", DType: "enum", CardinalityHint: 50},
		},
		TTLDays:     14,
		SupportHint: map[model.Granularity]int{model.GranularityItem: 100_000},
	}
}

func riskyFeature() *model.FeatureSpec {
	return &model.FeatureSpec{
		FeatureID:      "user_health_ctr",
		FeatureVersion: "v1",
		Fields: []model.FieldSpec{
			{Name: "user_id", DType: "string", IsIdentifier: true},
			{Name: "condition", DType: "enum", IsSensitive: true},
		},
		JoinKeys:   []model.JoinKeySpec{{Name: "user_id", Stability: 0.95, NDVHint: 1_000_000}},
		TTLDays:    365,
		PolicyTags: []string{"health"},
	}
}

func TestDecidePrefersCentralItem(t *testing.T) {
	dec := Decide(mildFeature(), defaults())
	if !dec.Feasible {
		t.Fatalf("mild feature must be feasible, got %s", dec.Reason)
	}
	if dec.Boundary != model.BoundaryCentral || dec.Granularity != model.GranularityItem {
		t.Fatalf("utility order prefers (CENTRAL, ITEM), got (%s, %s)", dec.Boundary, dec.Granularity)
	}
	if dec.Reason != model.ReasonFeasible {
		t.Fatalf("unexpected reason: %s", dec.Reason)
	}
}

func TestDecideHardDenyCentral(t *testing.T) {
	f := mildFeature()
	f.PolicyTags = []string{"precise_location"}
	dec := Decide(f, defaults())
	if dec.Boundary == model.BoundaryCentral {
		t.Fatal("precise_location must never release at CENTRAL")
	}
	if !dec.Feasible {
		t.Fatalf("SHUFFLE should still be feasible, got %s", dec.Reason)
	}
	if dec.Boundary != model.BoundaryShuffle {
		t.Fatalf("next boundary in utility order is SHUFFLE, got %s", dec.Boundary)
	}
}

func TestDecideDemographicsMinCluster(t *testing.T) {
	f := mildFeature()
	f.PolicyTags = []string{"demographics"}
	dec := Decide(f, defaults())
	if !dec.Feasible {
		t.Fatalf("expected feasible, got %s", dec.Reason)
	}
	if dec.Granularity == model.GranularityItem {
		t.Fatal("demographics must not release at ITEM")
	}
}

func TestDecideInfeasibleFallsBackConservative(t *testing.T) {
	th := defaults()
	for b := range th.TauBoundary {
		th.TauBoundary[b] = 0.0
	}
	dec := Decide(riskyFeature(), th)
	if dec.Feasible {
		t.Fatal("zero thresholds admit nothing")
	}
	if dec.Boundary != model.BoundaryLocal || dec.Granularity != model.GranularityAggregate {
		t.Fatalf("fallback must be (LOCAL, AGGREGATE), got (%s, %s)", dec.Boundary, dec.Granularity)
	}
	if dec.Reason != model.ReasonNoFeasibleOption {
		t.Fatalf("fallback reason: got %s", dec.Reason)
	}
	if dec.Scorecard.Risk == 0 {
		t.Fatal("fallback must still carry a scorecard")
	}
}

func TestCompileConstraints(t *testing.T) {
	f := riskyFeature()
	th := defaults()

	item := CompileConstraints(f, model.BoundaryCentral, model.GranularityItem, th)
	if item.RequirePreAggregation || item.MinGroupCardinality != 1 {
		t.Error("ITEM must carry no restrictions")
	}

	cluster := CompileConstraints(f, model.BoundaryCentral, model.GranularityCluster, th)
	if cluster.ForbidGroupByKeys.All || len(cluster.ForbidGroupByKeys.Keys) != 1 || cluster.ForbidGroupByKeys.Keys[0] != "user_id" {
		t.Errorf("CLUSTER must forbid grouping by identifiers, got %+v", cluster.ForbidGroupByKeys)
	}
	if len(cluster.ForbidJoinsOn.Keys) != 1 || cluster.ForbidJoinsOn.Keys[0] != "user_id" {
		t.Errorf("CLUSTER must forbid joins on declared keys, got %+v", cluster.ForbidJoinsOn)
	}
	if cluster.MinGroupCardinality != th.KMin {
		t.Errorf("CLUSTER cardinality floor: want %d, got %d", th.KMin, cluster.MinGroupCardinality)
	}
	if !cluster.RequirePreAggregation {
		t.Error("CLUSTER requires pre-aggregation")
	}

	agg := CompileConstraints(f, model.BoundaryLocal, model.GranularityAggregate, th)
	if !agg.ForbidGroupByKeys.All || !agg.ForbidJoinsOn.All {
		t.Error("AGGREGATE must forbid all grouping and joins")
	}
}

func TestAdmissibleSetBands(t *testing.T) {
	f := mildFeature()
	bands := BandConfig{BandMid: 0.45, BandHigh: 0.75}
	none := lps.HardRules{DenyBoundaries: map[model.Boundary]bool{}}

	_, minG := AdmissibleSet(f, 0.2, none, bands)
	if minG != model.GranularityItem {
		t.Errorf("low risk admits ITEM, got %s", minG)
	}
	_, minG = AdmissibleSet(f, 0.5, none, bands)
	if minG != model.GranularityCluster {
		t.Errorf("mid risk forces CLUSTER, got %s", minG)
	}
	cells, minG := AdmissibleSet(f, 0.8, none, bands)
	if minG != model.GranularityAggregate {
		t.Errorf("high risk forces AGGREGATE, got %s", minG)
	}
	for _, c := range cells {
		if c.Granularity != model.GranularityAggregate {
			t.Errorf("cell %v violates the AGGREGATE floor", c)
		}
	}
}

func TestAdmissibleSetHardRulesWin(t *testing.T) {
	f := mildFeature()
	hard := lps.HardRules{
		DenyBoundaries: map[model.Boundary]bool{model.BoundaryCentral: true},
		MinGranularity: model.GranularityCluster,
	}
	// Low risk, but the tag rule still forces CLUSTER and bans CENTRAL.
	cells, minG := AdmissibleSet(f, 0.1, hard, BandConfig{BandMid: 0.45, BandHigh: 0.75})
	if minG != model.GranularityCluster {
		t.Errorf("hard minimum wins over bands, got %s", minG)
	}
	for _, c := range cells {
		if c.Boundary == model.BoundaryCentral {
			t.Errorf("denied boundary leaked into admissible set: %v", c)
		}
	}
}
