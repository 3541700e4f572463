// Package control runs the offline decision pipeline in batches:
// catalog update → scoring → selection → contract issuance.
//
// A failure while processing one feature never aborts the batch; it is
// recorded per feature and the batch continues. Batch status is "ok" only
// when zero per-feature errors occurred.
package control

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/contract"
	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/planner"
	"github.com/releasegate/releasegate/internal/store"
)

// FeatureError records a per-feature failure inside a batch.
type FeatureError struct {
	FeatureID string `json:"feature_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Processed int            `json:"processed"`
	Errors    []FeatureError `json:"errors,omitempty"`
}

// OK reports whether the batch completed without per-feature errors.
func (r BatchResult) OK() bool {
	return len(r.Errors) == 0
}

// Controller drives the decision pipeline against the store.
type Controller struct {
	store     *store.Store
	log       *audit.Log
	cfg       *config.Config
	th        model.PolicyThresholds
	contracts *contract.Manager
	now       func() time.Time
}

// New builds a controller. The thresholds must already be validated.
func New(st *store.Store, log *audit.Log, cfg *config.Config, th model.PolicyThresholds) *Controller {
	return &Controller{
		store:     st,
		log:       log,
		cfg:       cfg,
		th:        th,
		contracts: contract.New(st, log),
		now:       time.Now,
	}
}

// UpsertFeatures writes catalog entries, auditing each upsert.
func (c *Controller) UpsertFeatures(features []model.FeatureSpec) error {
	for i := range features {
		f := &features[i]
		if err := c.store.UpsertFeature(f); err != nil {
			return err
		}
		if err := c.log.Event(audit.EventCatalogUpsert, f.FeatureID, map[string]any{
			"feature_version": f.FeatureVersion,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ScoreBatch computes and persists a scorecard for each feature at its
// finest candidate granularity. Uniqueness is stats-driven over the window's
// snapshot (conservative maximum when no snapshot exists); inferability uses
// the probe result when one exists.
func (c *Controller) ScoreBatch(featureIDs []string, windowID, policyHash string) BatchResult {
	runID := "lpsrun_" + uuid.NewString()
	var res BatchResult

	for _, fid := range featureIDs {
		if err := c.scoreOne(fid, runID, windowID, policyHash); err != nil {
			res.Errors = append(res.Errors, FeatureError{FeatureID: fid, Stage: "score", Error: err.Error()})
			continue
		}
		res.Processed++
	}
	return res
}

func (c *Controller) scoreOne(fid, runID, windowID, policyHash string) error {
	f, err := c.store.GetFeature(fid)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("feature not found: %s", fid)
	}
	probe, err := c.store.GetProbe(fid)
	if err != nil {
		return err
	}

	g := model.Finest(f.Candidates())
	stats, err := c.store.GetStats(fid, windowID, g)
	if err != nil {
		return err
	}
	sc := lps.ComputeWith(f, g, c.th, lps.Options{Probe: probe, Stats: stats, StatsDriven: true})
	hard := lps.EvaluateHardRules(f)
	sc.ReasonCodes = append(sc.ReasonCodes, hard.ReasonCodes...)

	rec := &model.ScorecardRecord{
		RunID:          runID,
		FeatureID:      fid,
		FeatureVersion: f.FeatureVersion,
		Granularity:    g,
		Scorecard:      sc,
		PolicyHash:     policyHash,
		ComputedAt:     c.now().Unix(),
	}
	if err := c.store.AppendScorecard(rec); err != nil {
		return err
	}
	return c.log.Event(audit.EventScored, fid, map[string]any{
		"risk":        sc.Risk,
		"granularity": string(g),
	})
}

// statsAdapter exposes the store as a planner.StatsProvider. A read failure
// reads as missing stats, which the selection treats conservatively.
type statsAdapter struct {
	store *store.Store
}

func (a statsAdapter) Stats(featureID, windowID string, g model.Granularity) *model.StatsSnapshot {
	s, err := a.store.GetStats(featureID, windowID, g)
	if err != nil {
		return nil
	}
	return s
}

// SelectBatch runs granularity selection for each feature: the admissible
// set comes from hard gates and risk bands over the latest scorecard, then
// variance-minimizing selection picks within it using stored stats.
func (c *Controller) SelectBatch(featureIDs []string, windowID string) BatchResult {
	var res BatchResult
	for _, fid := range featureIDs {
		if err := c.selectOne(fid, windowID); err != nil {
			res.Errors = append(res.Errors, FeatureError{FeatureID: fid, Stage: "select", Error: err.Error()})
			continue
		}
		res.Processed++
	}
	return res
}

func (c *Controller) selectOne(fid, windowID string) error {
	f, err := c.store.GetFeature(fid)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("feature not found: %s", fid)
	}

	recs, err := c.store.LatestScorecards(fid, 1)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return c.log.Event(audit.EventRoutingSkipped, fid, map[string]any{"reason": "NO_LPS"})
	}

	hard := lps.EvaluateHardRules(f)
	admissible, _ := planner.AdmissibleSet(f, recs[0].Scorecard.Risk, hard, planner.BandConfig{
		BandMid:  c.cfg.Bands.BandMid,
		BandHigh: c.cfg.Bands.BandHigh,
	})
	if len(admissible) == 0 {
		return c.log.Event(audit.EventRoutingSkipped, fid, map[string]any{"reason": "EMPTY_ADMISSIBLE_SET"})
	}

	sel := planner.SelectByVariance(f, admissible, windowID, statsAdapter{c.store}, planner.VarianceConfig{
		Sigma:               c.cfg.DP.CentralSigma,
		MinSupportThreshold: int64(c.cfg.DP.MinSupportThreshold),
	})

	rd := c.buildRouting(f, sel)
	if err := c.store.AppendRoutingDecision(rd); err != nil {
		return err
	}
	return c.log.Event(audit.EventRoutingDecided, fid, map[string]any{
		"boundary":    string(rd.Boundary),
		"granularity": string(rd.Granularity),
		"reasons":     rd.ReasonCodes,
	})
}

func (c *Controller) buildRouting(f *model.FeatureSpec, sel planner.Selection) *model.RoutingDecision {
	var aggKeys []string
	switch sel.Granularity {
	case model.GranularityItem:
		aggKeys = []string{"item_id"}
	case model.GranularityCluster:
		aggKeys = []string{"cluster_id"}
	}

	issuedAt := c.now()
	return &model.RoutingDecision{
		FeatureID:   f.FeatureID,
		Boundary:    sel.Boundary,
		Granularity: sel.Granularity,
		DPMechanism: "GAUSSIAN",
		DPParameters: model.DPParameters{
			Sigma:               c.cfg.DP.CentralSigma,
			MinSupportThreshold: c.cfg.DP.MinSupportThreshold,
		},
		AggregationKeys: aggKeys,
		JoinPolicy: model.JoinPolicy{
			AllowJoins: sel.Boundary == model.BoundaryCentral,
			JoinKeys:   f.JoinKeyNames(),
		},
		RetentionPolicy: model.RetentionPolicy{RetentionDays: f.TTLDays},
		ReasonCodes:     sel.ReasonCodes,
		ContractVersion: contract.Version(f.FeatureID, issuedAt),
		IssuedAt:        issuedAt.Unix(),
	}
}

// IssueBatch converts each feature's latest routing decision into an
// active contract.
func (c *Controller) IssueBatch(featureIDs []string) BatchResult {
	var res BatchResult
	for _, fid := range featureIDs {
		rd, err := c.store.LatestRoutingDecision(fid)
		if err != nil {
			res.Errors = append(res.Errors, FeatureError{FeatureID: fid, Stage: "issue", Error: err.Error()})
			continue
		}
		if rd == nil {
			if err := c.log.Event(audit.EventContractSkipped, fid, map[string]any{"reason": "NO_ROUTING_DECISION"}); err != nil {
				res.Errors = append(res.Errors, FeatureError{FeatureID: fid, Stage: "issue", Error: err.Error()})
			}
			continue
		}
		if _, err := c.contracts.IssueFromRouting(rd); err != nil {
			res.Errors = append(res.Errors, FeatureError{FeatureID: fid, Stage: "issue", Error: err.Error()})
			continue
		}
		res.Processed++
	}
	return res
}
