package control

import (
	"path/filepath"
	"testing"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logPath := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	cfg := config.Default()
	th, err := cfg.PolicyThresholds()
	if err != nil {
		t.Fatal(err)
	}
	return New(st, log, cfg, th), st, logPath
}

func mildSpec() model.FeatureSpec {
	return model.FeatureSpec{
		FeatureID:      "campaign_ctr",
		FeatureVersion: "v1",
		QueryType:      model.QueryMeanBounded01,
		Fields: []model.FieldSpec{
			{Name: "campaign", DType: "enum", CardinalityHint: 50},
		},
		TTLDays: 14,
	}
}

func countEvents(t *testing.T, path, eventType string) int {
	t.Helper()
	entries, err := audit.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func TestUpsertFeaturesAudits(t *testing.T) {
	c, st, logPath := newTestController(t)

	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}
	f, err := st.GetFeature("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.FeatureVersion != "v1" {
		t.Fatalf("feature not persisted: %+v", f)
	}
	if n := countEvents(t, logPath, audit.EventCatalogUpsert); n != 1 {
		t.Fatalf("catalog upsert events = %d, want 1", n)
	}
}

func TestScoreBatchPersistsScorecard(t *testing.T) {
	c, st, logPath := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}

	res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "hash_abc")
	if !res.OK() || res.Processed != 1 {
		t.Fatalf("batch: %+v", res)
	}

	recs, err := st.LatestScorecards("campaign_ctr", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("scorecards = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.PolicyHash != "hash_abc" || rec.FeatureVersion != "v1" {
		t.Fatalf("record metadata: %+v", rec)
	}
	// Scoring runs at the finest declared candidate (all, here).
	if rec.Granularity != model.GranularityItem {
		t.Fatalf("granularity = %s, want ITEM", rec.Granularity)
	}
	if rec.Scorecard.Risk < 0 || rec.Scorecard.Risk > 1 {
		t.Fatalf("risk out of bounds: %g", rec.Scorecard.Risk)
	}
	if n := countEvents(t, logPath, audit.EventScored); n != 1 {
		t.Fatalf("scored events = %d, want 1", n)
	}
}

func TestScoreBatchConservativeWithoutStats(t *testing.T) {
	c, st, _ := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}

	if res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "h"); !res.OK() {
		t.Fatalf("score: %+v", res)
	}
	recs, err := st.LatestScorecards("campaign_ctr", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("scorecards = %d, want 1", len(recs))
	}
	// No window snapshot: uniqueness pins at the conservative maximum.
	if recs[0].Scorecard.U != 1.0 {
		t.Fatalf("U = %g, want conservative 1.0", recs[0].Scorecard.U)
	}
	if !containsCode(recs[0].Scorecard.ReasonCodes, lps.CodeMissingStatsUniq) {
		t.Fatalf("expected %s in %v", lps.CodeMissingStatsUniq, recs[0].Scorecard.ReasonCodes)
	}
}

func TestScoreBatchFlagsLowSupport(t *testing.T) {
	c, st, _ := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}
	err := st.UpsertStats(&model.StatsSnapshot{
		FeatureID:     "campaign_ctr",
		WindowID:      "2026-08-01",
		Granularity:   model.GranularityItem,
		NObs:          1000,
		MinSupportEst: 10, // under the default k_min of 100
	})
	if err != nil {
		t.Fatal(err)
	}

	if res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "h"); !res.OK() {
		t.Fatalf("score: %+v", res)
	}
	recs, err := st.LatestScorecards("campaign_ctr", 1)
	if err != nil {
		t.Fatal(err)
	}
	sc := recs[0].Scorecard
	if !containsCode(sc.ReasonCodes, lps.CodeLowMinSupport) {
		t.Fatalf("expected %s in %v", lps.CodeLowMinSupport, sc.ReasonCodes)
	}
	if sc.U <= 0 || sc.U >= 1 {
		t.Fatalf("observed-stats uniqueness must land inside (0,1), got %g", sc.U)
	}
}

func TestScoreBatchIsolatesFailures(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}

	res := c.ScoreBatch([]string{"ghost", "campaign_ctr"}, "2026-08-01", "h")
	if res.OK() {
		t.Fatal("unknown feature must surface as an error")
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1", res.Processed)
	}
	if len(res.Errors) != 1 || res.Errors[0].FeatureID != "ghost" || res.Errors[0].Stage != "score" {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestSelectBatchSkipsWithoutScorecard(t *testing.T) {
	c, st, logPath := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}

	res := c.SelectBatch([]string{"campaign_ctr"}, "2026-08-01")
	if !res.OK() {
		t.Fatalf("batch: %+v", res)
	}
	rd, err := st.LatestRoutingDecision("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if rd != nil {
		t.Fatalf("no decision expected without a scorecard, got %+v", rd)
	}
	if n := countEvents(t, logPath, audit.EventRoutingSkipped); n != 1 {
		t.Fatalf("routing skipped events = %d, want 1", n)
	}
}

func TestSelectBatchFallsBackCoarseWithoutStats(t *testing.T) {
	c, st, _ := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}
	if res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "h"); !res.OK() {
		t.Fatalf("score: %+v", res)
	}

	if res := c.SelectBatch([]string{"campaign_ctr"}, "2026-08-01"); !res.OK() {
		t.Fatalf("select: %+v", res)
	}
	rd, err := st.LatestRoutingDecision("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if rd == nil {
		t.Fatal("routing decision not persisted")
	}
	if rd.Granularity != model.GranularityAggregate || rd.Boundary != model.BoundaryLocal {
		t.Fatalf("fallback = (%s, %s), want (LOCAL, AGGREGATE)", rd.Boundary, rd.Granularity)
	}
	if !containsCode(rd.ReasonCodes, model.ReasonStatsFallbackCoarse) {
		t.Fatalf("reasons: %v", rd.ReasonCodes)
	}
	if len(rd.AggregationKeys) != 0 {
		t.Fatalf("aggregate routing must carry no aggregation keys: %v", rd.AggregationKeys)
	}
	if rd.ContractVersion == "" {
		t.Fatal("routing decision must carry a contract version")
	}
}

func TestSelectBatchUsesStats(t *testing.T) {
	c, st, logPath := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}
	err := st.UpsertStats(&model.StatsSnapshot{
		FeatureID:      "campaign_ctr",
		WindowID:       "2026-08-01",
		Granularity:    model.GranularityItem,
		NObs:           100000,
		MinSupportEst:  5000,
		ApproxVariance: 1e-6,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "h"); !res.OK() {
		t.Fatalf("score: %+v", res)
	}

	if res := c.SelectBatch([]string{"campaign_ctr"}, "2026-08-01"); !res.OK() {
		t.Fatalf("select: %+v", res)
	}
	rd, err := st.LatestRoutingDecision("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if rd == nil {
		t.Fatal("routing decision not persisted")
	}
	// Low risk admits ITEM; observed stats make it feasible.
	if rd.Granularity != model.GranularityItem {
		t.Fatalf("granularity = %s, want ITEM", rd.Granularity)
	}
	if !containsCode(rd.ReasonCodes, model.ReasonMinEffVarSelected) {
		t.Fatalf("reasons: %v", rd.ReasonCodes)
	}
	if rd.DPMechanism != "GAUSSIAN" || rd.DPParameters.Sigma != 4.0 {
		t.Fatalf("dp parameters: %s %+v", rd.DPMechanism, rd.DPParameters)
	}
	if len(rd.AggregationKeys) != 1 || rd.AggregationKeys[0] != "item_id" {
		t.Fatalf("aggregation keys: %v", rd.AggregationKeys)
	}
	if rd.JoinPolicy.AllowJoins != (rd.Boundary == model.BoundaryCentral) {
		t.Fatalf("join policy inconsistent with boundary: %+v", rd)
	}
	if rd.RetentionPolicy.RetentionDays != 14 {
		t.Fatalf("retention = %d, want feature ttl 14", rd.RetentionPolicy.RetentionDays)
	}
	if n := countEvents(t, logPath, audit.EventRoutingDecided); n != 1 {
		t.Fatalf("routing decided events = %d, want 1", n)
	}
}

func TestIssueBatchActivatesContract(t *testing.T) {
	c, st, logPath := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}
	if res := c.ScoreBatch([]string{"campaign_ctr"}, "2026-08-01", "h"); !res.OK() {
		t.Fatal("score failed")
	}
	if res := c.SelectBatch([]string{"campaign_ctr"}, "2026-08-01"); !res.OK() {
		t.Fatal("select failed")
	}

	res := c.IssueBatch([]string{"campaign_ctr"})
	if !res.OK() || res.Processed != 1 {
		t.Fatalf("issue: %+v", res)
	}

	rd, err := st.LatestRoutingDecision("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	active, err := st.ActiveContract("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil {
		t.Fatal("no active contract after issue")
	}
	if active.ContractVersion != rd.ContractVersion {
		t.Fatalf("active %s != routing %s", active.ContractVersion, rd.ContractVersion)
	}
	if n := countEvents(t, logPath, audit.EventContractPublished); n != 1 {
		t.Fatalf("contract published events = %d, want 1", n)
	}
}

func TestIssueBatchSkipsWithoutRouting(t *testing.T) {
	c, st, logPath := newTestController(t)
	if err := c.UpsertFeatures([]model.FeatureSpec{mildSpec()}); err != nil {
		t.Fatal(err)
	}

	res := c.IssueBatch([]string{"campaign_ctr"})
	if !res.OK() {
		t.Fatalf("skip must not be an error: %+v", res)
	}
	if res.Processed != 0 {
		t.Fatalf("processed = %d, want 0", res.Processed)
	}
	active, err := st.ActiveContract("campaign_ctr")
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatal("no contract expected")
	}
	if n := countEvents(t, logPath, audit.EventContractSkipped); n != 1 {
		t.Fatalf("contract skipped events = %d, want 1", n)
	}
}

func containsCode(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}
