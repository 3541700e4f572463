package enforce

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/store"
)

func newTestPlane(t *testing.T) (*Plane, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logPath := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	// Deterministic: no noise.
	p := New(st, log).WithNoise(func(std float64) float64 { return 0 })
	return p, st, logPath
}

// activateContract registers the feature in the catalog (Materialize walks
// catalog features) and activates its contract.
func activateContract(t *testing.T, st *store.Store, c *model.RuntimeContract) {
	t.Helper()
	f := &model.FeatureSpec{
		FeatureID:      c.FeatureID,
		FeatureVersion: "v1",
		Fields:         []model.FieldSpec{{Name: "campaign", DType: "enum"}},
		TTLDays:        30,
	}
	if err := st.UpsertFeature(f); err != nil {
		t.Fatal(err)
	}
	c.Active = true
	if err := st.ActivateContract(c); err != nil {
		t.Fatal(err)
	}
}

func itemContract(feature string, minSupport int) *model.RuntimeContract {
	return &model.RuntimeContract{
		FeatureID:       feature,
		ContractVersion: "c_" + feature + "_1",
		Boundary:        model.BoundaryCentral,
		Granularity:     model.GranularityItem,
		DPMechanism:     "GAUSSIAN",
		DPParameters:    model.DPParameters{Sigma: 4.0, MinSupportThreshold: minSupport},
		AllowDowngradeTo: []model.DowngradeTarget{
			{Boundary: model.BoundaryCentral, Granularity: model.GranularityCluster},
			{Boundary: model.BoundaryCentral, Granularity: model.GranularityAggregate},
		},
	}
}

func TestIngestWithoutContractRejects(t *testing.T) {
	p, _, logPath := newTestPlane(t)

	res, err := p.Ingest("f1", "w1", "cell_a", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Staged {
		t.Fatal("no active contract must reject")
	}
	if res.Reason != ReasonNoActiveContract {
		t.Fatalf("reason: got %s", res.Reason)
	}

	entries, _ := audit.Read(logPath)
	if len(entries) != 1 || entries[0].EventType != audit.EventReject {
		t.Fatalf("rejection must be audited, got %v", entries)
	}
}

func TestIngestInvalidEventNeverStaged(t *testing.T) {
	p, st, _ := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	cases := []struct {
		name                string
		clicks, impressions int64
	}{
		{"negative clicks", -1, 10},
		{"negative impressions", 1, -10},
		{"clicks exceed impressions", 11, 10},
	}
	for _, tc := range cases {
		res, err := p.Ingest("f1", "w1", "cell_a", tc.clicks, tc.impressions)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Staged || res.Reason != ReasonInvalidEvent {
			t.Errorf("%s: want INVALID_EVENT rejection, got %+v", tc.name, res)
		}
	}

	staged, err := st.ReadStaged(model.BoundaryCentral, "f1", model.GranularityItem, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Fatalf("invalid events must never reach staging, found %d rows", len(staged))
	}
}

func TestIngestValidEventStaged(t *testing.T) {
	p, st, _ := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	res, err := p.Ingest("f1", "w1", "cell_a", 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Staged || res.Reason != "" {
		t.Fatalf("valid event must stage cleanly: %+v", res)
	}

	staged, _ := st.ReadStaged(model.BoundaryCentral, "f1", model.GranularityItem, "w1")
	if len(staged) != 1 || staged[0].Clicks != 3 || staged[0].Impressions != 10 {
		t.Fatalf("staged row mismatch: %+v", staged)
	}
}

func TestMaterializeHappyPath(t *testing.T) {
	p, st, _ := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	// Two cells, both over the support floor.
	for i := 0; i < 3; i++ {
		if _, err := p.Ingest("f1", "w1", "cell_a", 5, 20); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Ingest("f1", "w1", "cell_b", 10, 25); err != nil {
			t.Fatal(err)
		}
	}

	outcomes, err := p.Materialize(model.BoundaryCentral, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one feature outcome, got %d", len(outcomes))
	}
	o := outcomes[0]
	if o.Blocked || o.Downgraded || o.Materialized != 2 {
		t.Fatalf("unexpected outcome: %+v", o)
	}

	cells, err := st.ReadMaterialized("f1", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 2 {
		t.Fatalf("expected 2 materialized cells, got %d", len(cells))
	}
	// With zero noise the value is the exact clamped CTR.
	for _, c := range cells {
		var want float64
		switch c.CellKey {
		case "cell_a":
			want = 15.0 / 60.0
		case "cell_b":
			want = 20.0 / 50.0
		default:
			t.Fatalf("unexpected cell %s", c.CellKey)
		}
		if math.Abs(c.Value-want) > 1e-12 {
			t.Errorf("%s: want %g, got %g", c.CellKey, want, c.Value)
		}
	}
}

func TestMaterializeIdempotent(t *testing.T) {
	p, st, _ := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	if _, err := p.Ingest("f1", "w1", "cell_a", 5, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Materialize(model.BoundaryCentral, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Materialize(model.BoundaryCentral, "w1"); err != nil {
		t.Fatal(err)
	}

	cells, _ := st.ReadMaterialized("f1", "w1")
	if len(cells) != 1 {
		t.Fatalf("re-run must overwrite, not duplicate: %d rows", len(cells))
	}
}

func TestMaterializeDowngradeSucceedsOnCoarseSupport(t *testing.T) {
	p, st, logPath := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	// ITEM staging falls short of the floor.
	if _, err := p.Ingest("f1", "w1", "item_1", 1, 5); err != nil {
		t.Fatal(err)
	}
	// The coarser AGGREGATE staging has plenty.
	if err := st.StageEvent(model.BoundaryCentral, "f1", model.GranularityAggregate, "w1", "all", 40, 200); err != nil {
		t.Fatal(err)
	}

	outcomes, err := p.Materialize(model.BoundaryCentral, "w1")
	if err != nil {
		t.Fatal(err)
	}
	o := outcomes[0]
	if o.Blocked {
		t.Fatalf("downgrade should have rescued the release: %+v", o)
	}
	if !o.Downgraded || o.Granularity != model.GranularityAggregate {
		t.Fatalf("expected a downgrade to AGGREGATE: %+v", o)
	}
	if o.Materialized != 1 {
		t.Fatalf("expected one coarse cell, got %d", o.Materialized)
	}

	entries, _ := audit.Read(logPath)
	var sawDowngrade, sawMaterialize bool
	for _, e := range entries {
		switch e.EventType {
		case audit.EventDowngrade:
			sawDowngrade = true
		case audit.EventMaterialize:
			sawMaterialize = true
		}
	}
	if !sawDowngrade || !sawMaterialize {
		t.Fatalf("downgrade and materialization must both be audited, got %v", entries)
	}
}

func TestMaterializeSurfacesDowngradeAuditFailure(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	log, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	p := New(st, log).WithNoise(func(std float64) float64 { return 0 })
	activateContract(t, st, itemContract("f1", 25))

	// Stage a downgrade scenario: ITEM short of the floor, AGGREGATE rescued.
	if _, err := p.Ingest("f1", "w1", "item_1", 1, 5); err != nil {
		t.Fatal(err)
	}
	if err := st.StageEvent(model.BoundaryCentral, "f1", model.GranularityAggregate, "w1", "all", 40, 200); err != nil {
		t.Fatal(err)
	}

	// With the log closed the downgrade cannot be audited, and an unaudited
	// downgrade must fail the run rather than materialize silently.
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Materialize(model.BoundaryCentral, "w1"); err == nil {
		t.Fatal("expected the downgrade audit write failure to surface")
	}
	cells, _ := st.ReadMaterialized("f1", "w1")
	if len(cells) != 0 {
		t.Fatalf("a failed run must write nothing, found %d cells", len(cells))
	}
}

func TestMaterializeBlocksWhenDowngradeAlsoFails(t *testing.T) {
	p, st, logPath := newTestPlane(t)
	activateContract(t, st, itemContract("f1", 25))

	// Fine staging short of the floor, nothing staged coarser.
	if _, err := p.Ingest("f1", "w1", "item_1", 1, 5); err != nil {
		t.Fatal(err)
	}

	outcomes, err := p.Materialize(model.BoundaryCentral, "w1")
	if err != nil {
		t.Fatal(err)
	}
	o := outcomes[0]
	if !o.Blocked || o.Materialized != 0 {
		t.Fatalf("expected a block: %+v", o)
	}

	cells, _ := st.ReadMaterialized("f1", "w1")
	if len(cells) != 0 {
		t.Fatal("a blocked release must write nothing")
	}

	entries, _ := audit.Read(logPath)
	sawBlock := false
	for _, e := range entries {
		if e.EventType == audit.EventBlock {
			sawBlock = true
			if e.Details["reason"] != ReasonMinSupportFail {
				t.Fatalf("block reason: got %v", e.Details["reason"])
			}
		}
	}
	if !sawBlock {
		t.Fatal("block must be audited")
	}
}

func TestMaterializeBlocksWithoutDowngradeChain(t *testing.T) {
	p, st, _ := newTestPlane(t)
	c := itemContract("f1", 25)
	c.AllowDowngradeTo = nil
	activateContract(t, st, c)

	if _, err := p.Ingest("f1", "w1", "item_1", 1, 5); err != nil {
		t.Fatal(err)
	}
	outcomes, err := p.Materialize(model.BoundaryCentral, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if !outcomes[0].Blocked || outcomes[0].Downgraded {
		t.Fatalf("no chain means block without downgrade: %+v", outcomes[0])
	}
}

func TestMaterializeSkipsOtherBoundaries(t *testing.T) {
	p, st, _ := newTestPlane(t)
	c := itemContract("f1", 25)
	c.Boundary = model.BoundaryShuffle
	activateContract(t, st, c)

	if _, err := p.Ingest("f1", "w1", "cell_a", 5, 30); err != nil {
		t.Fatal(err)
	}
	outcomes, err := p.Materialize(model.BoundaryCentral, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("SHUFFLE contract must not materialize at CENTRAL, got %v", outcomes)
	}
}

func TestNoiseClampsToUnitInterval(t *testing.T) {
	p, st, _ := newTestPlane(t)
	// Huge positive noise draw.
	p = p.WithNoise(func(std float64) float64 { return 100 })
	activateContract(t, st, itemContract("f1", 25))

	if _, err := p.Ingest("f1", "w1", "cell_a", 5, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Materialize(model.BoundaryCentral, "w1"); err != nil {
		t.Fatal(err)
	}
	cells, _ := st.ReadMaterialized("f1", "w1")
	if len(cells) != 1 || cells[0].Value != 1.0 {
		t.Fatalf("noisy value must clamp to [0,1], got %+v", cells)
	}
}
