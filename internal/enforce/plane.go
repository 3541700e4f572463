// Package enforce is the runtime enforcement plane. It never decides — it
// enforces the active contract: validates and stages incoming signal
// events, aggregates them at materialization, enforces minimum support with
// at most one pre-authorized downgrade, applies calibrated noise, and
// persists materialized values tagged with the contract version used.
package enforce

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/store"
)

// Rejection reasons.
const (
	ReasonNoActiveContract = "NO_ACTIVE_CONTRACT"
	ReasonInvalidEvent     = "INVALID_EVENT"
	ReasonMinSupportFail   = "MIN_SUPPORT_FAIL"
)

// NoiseFunc draws one sample of zero-mean noise with the given standard
// deviation. Injectable so tests run deterministic.
type NoiseFunc func(std float64) float64

// Plane enforces contracts against live signals.
type Plane struct {
	store *store.Store
	log   *audit.Log
	noise NoiseFunc
}

// New builds an enforcement plane with Gaussian noise.
func New(st *store.Store, log *audit.Log) *Plane {
	return &Plane{store: st, log: log, noise: GaussianNoise(rand.New(rand.NewSource(rand.Int63())))}
}

// WithNoise overrides the noise source.
func (p *Plane) WithNoise(noise NoiseFunc) *Plane {
	p.noise = noise
	return p
}

// GaussianNoise returns a NoiseFunc drawing from N(0, std²) using rng.
func GaussianNoise(rng *rand.Rand) NoiseFunc {
	return func(std float64) float64 {
		return rng.NormFloat64() * std
	}
}

// IngestResult reports the outcome of one ingest call.
type IngestResult struct {
	Staged bool
	Reason string // empty when staged
}

// Ingest validates a raw signal event against the feature's active contract
// and stages it tagged with the contract's boundary and granularity.
// Without an active contract, or with inconsistent counts, the event is
// rejected and never staged.
func (p *Plane) Ingest(featureID, windowID, cellKey string, clicks, impressions int64) (IngestResult, error) {
	contract, err := p.store.ActiveContract(featureID)
	if err != nil {
		return IngestResult{}, err
	}
	if contract == nil {
		if err := p.log.Event(audit.EventReject, featureID, map[string]any{"reason": ReasonNoActiveContract}); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Reason: ReasonNoActiveContract}, nil
	}

	if clicks < 0 || impressions < 0 || clicks > impressions {
		if err := p.log.Event(audit.EventReject, featureID, map[string]any{
			"reason":      ReasonInvalidEvent,
			"clicks":      clicks,
			"impressions": impressions,
		}); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Reason: ReasonInvalidEvent}, nil
	}

	if err := p.store.StageEvent(contract.Boundary, featureID, contract.Granularity, windowID, cellKey, clicks, impressions); err != nil {
		return IngestResult{}, err
	}
	if err := p.log.Event(audit.EventIngest, featureID, map[string]any{
		"boundary":    string(contract.Boundary),
		"granularity": string(contract.Granularity),
		"window_id":   windowID,
	}); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Staged: true}, nil
}

// FeatureOutcome summarizes materialization for one feature.
type FeatureOutcome struct {
	FeatureID       string
	Materialized    int // cells written
	Blocked         bool
	Downgraded      bool
	ContractVersion string
	Granularity     model.Granularity
}

// Materialize aggregates staged events for every feature with an active
// contract at the boundary, enforces minimum support, and persists noisy
// values. It re-aggregates from the full staged set on every run, so a
// retried materialization is idempotent.
//
// When support fails and the contract pre-authorizes downgrades, exactly
// one attempt is made at the coarsest authorized target: the staged set for
// that coarser granularity is re-read and support re-checked. Rows staged
// under the original fine granularity are not re-keyed into coarser cells
// (no cluster mapping is available at this layer), so a downgrade only
// succeeds when events were also staged at the coarser granularity.
func (p *Plane) Materialize(boundary model.Boundary, windowID string) ([]FeatureOutcome, error) {
	ids, err := p.store.ListFeatureIDs()
	if err != nil {
		return nil, err
	}

	var outcomes []FeatureOutcome
	for _, fid := range ids {
		contract, err := p.store.ActiveContract(fid)
		if err != nil {
			return nil, err
		}
		if contract == nil || contract.Boundary != boundary {
			continue
		}
		outcome, err := p.materializeFeature(contract, windowID)
		if err != nil {
			return nil, fmt.Errorf("enforce: materialize %s: %w", fid, err)
		}
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	return outcomes, nil
}

func (p *Plane) materializeFeature(contract *model.RuntimeContract, windowID string) (*FeatureOutcome, error) {
	staged, err := p.store.ReadStaged(contract.Boundary, contract.FeatureID, contract.Granularity, windowID)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, nil
	}

	byCell := aggregate(staged)

	outcome := &FeatureOutcome{
		FeatureID:       contract.FeatureID,
		ContractVersion: contract.ContractVersion,
		Granularity:     contract.Granularity,
	}

	minSupport := minImpressions(byCell)
	if minSupport < int64(contract.DPParameters.MinSupportThreshold) {
		block := func(support int64) error {
			return p.log.Event(audit.EventBlock, contract.FeatureID, map[string]any{
				"reason":      ReasonMinSupportFail,
				"min_support": support,
				"window_id":   windowID,
			})
		}

		downgraded, err := p.attemptDowngrade(contract)
		if err != nil {
			return nil, err
		}
		if downgraded == nil {
			if err := block(minSupport); err != nil {
				return nil, err
			}
			outcome.Blocked = true
			return outcome, nil
		}

		// Single retry under the coarser granularity's staged set.
		coarse, err := p.store.ReadStaged(downgraded.Boundary, downgraded.FeatureID, downgraded.Granularity, windowID)
		if err != nil {
			return nil, err
		}
		coarseByCell := aggregate(coarse)
		coarseSupport := minImpressions(coarseByCell)
		if len(coarseByCell) == 0 || coarseSupport < int64(downgraded.DPParameters.MinSupportThreshold) {
			if err := block(coarseSupport); err != nil {
				return nil, err
			}
			outcome.Blocked = true
			return outcome, nil
		}

		contract = downgraded
		byCell = coarseByCell
		outcome.Downgraded = true
		outcome.Granularity = contract.Granularity
	}

	cells := make([]string, 0, len(byCell))
	for cell := range byCell {
		cells = append(cells, cell)
	}
	sort.Strings(cells)

	for _, cell := range cells {
		agg := byCell[cell]
		imps := agg.Impressions
		if imps < 1 {
			imps = 1
		}
		ctr := float64(agg.Clicks) / float64(imps)
		value := p.applyNoise(ctr, imps, contract)
		if err := p.store.WriteMaterialized(store.MaterializedCell{
			Boundary:        contract.Boundary,
			FeatureID:       contract.FeatureID,
			Granularity:     contract.Granularity,
			WindowID:        windowID,
			CellKey:         cell,
			Value:           value,
			ContractVersion: contract.ContractVersion,
		}); err != nil {
			return nil, err
		}
		outcome.Materialized++
	}

	if err := p.log.Event(audit.EventMaterialize, contract.FeatureID, map[string]any{
		"boundary":         string(contract.Boundary),
		"granularity":      string(contract.Granularity),
		"window_id":        windowID,
		"contract_version": contract.ContractVersion,
		"cells":            outcome.Materialized,
	}); err != nil {
		return nil, err
	}
	return outcome, nil
}

// applyNoise adds calibrated Gaussian noise to a bounded mean. Sensitivity
// for a mean over N bounded contributions is 1/N, clamped back to [0,1].
func (p *Plane) applyNoise(mean float64, n int64, contract *model.RuntimeContract) float64 {
	std := contract.DPParameters.Sigma / math.Max(1, float64(n))
	noisy := mean + p.noise(std)
	return math.Max(0, math.Min(1, noisy))
}

// attemptDowngrade picks the coarsest pre-authorized target and returns the
// contract rebound to it, or nil when the chain is empty. The downgrade is
// for this materialization only; the stored contract is untouched.
func (p *Plane) attemptDowngrade(contract *model.RuntimeContract) (*model.RuntimeContract, error) {
	if len(contract.AllowDowngradeTo) == 0 {
		return nil, nil
	}
	target := contract.AllowDowngradeTo[0]
	for _, t := range contract.AllowDowngradeTo[1:] {
		if t.Granularity.Rank() > target.Granularity.Rank() {
			target = t
		}
	}

	cp := *contract
	cp.Granularity = target.Granularity
	// Boundary never changes on downgrade.
	if err := p.log.Event(audit.EventDowngrade, contract.FeatureID, map[string]any{
		"from":             []string{string(contract.Boundary), string(contract.Granularity)},
		"to":               []string{string(target.Boundary), string(target.Granularity)},
		"contract_version": contract.ContractVersion,
	}); err != nil {
		return nil, err
	}
	return &cp, nil
}

type cellAgg struct {
	Clicks      int64
	Impressions int64
}

func aggregate(staged []store.StagedCell) map[string]cellAgg {
	byCell := make(map[string]cellAgg)
	for _, row := range staged {
		agg := byCell[row.CellKey]
		agg.Clicks += row.Clicks
		agg.Impressions += row.Impressions
		byCell[row.CellKey] = agg
	}
	return byCell
}

func minImpressions(byCell map[string]cellAgg) int64 {
	first := true
	var min int64
	for _, agg := range byCell {
		if first || agg.Impressions < min {
			min = agg.Impressions
			first = false
		}
	}
	return min
}
