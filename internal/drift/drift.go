// Package drift compares consecutive risk scorecards per feature and flags
// movement beyond tolerance. Drift is advisory: it raises an audit event
// for human or downstream-policy review, never an automatic action.
package drift

import (
	"math"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/model"
)

// History supplies the persisted scorecard history, newest first.
type History interface {
	LatestScorecards(featureID string, limit int) ([]model.ScorecardRecord, error)
}

// Result reports a drift check.
type Result struct {
	Checked bool    `json:"checked"` // false when fewer than two scorecards exist
	Drift   float64 `json:"drift"`
	Tau     float64 `json:"tau"`
	Flagged bool    `json:"flagged"`
}

// Monitor checks features for risk drift.
type Monitor struct {
	history History
	log     *audit.Log
	tau     float64
}

// New builds a monitor with tolerance tau.
func New(history History, log *audit.Log, tau float64) *Monitor {
	return &Monitor{history: history, log: log, tau: tau}
}

// Check compares the two most recent scorecards for the feature and emits
// an LPS_DRIFT audit event when |risk delta| exceeds tau.
func (m *Monitor) Check(featureID string) (Result, error) {
	recs, err := m.history.LatestScorecards(featureID, 2)
	if err != nil {
		return Result{}, err
	}
	if len(recs) < 2 {
		return Result{Tau: m.tau}, nil
	}

	delta := math.Abs(recs[0].Scorecard.Risk - recs[1].Scorecard.Risk)
	res := Result{Checked: true, Drift: delta, Tau: m.tau, Flagged: delta > m.tau}
	if res.Flagged && m.log != nil {
		if err := m.log.Event(audit.EventDrift, featureID, map[string]any{
			"drift": delta,
			"tau":   m.tau,
		}); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}
