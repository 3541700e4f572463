package model

// Contribution is one (source, contribution) pair in a scorecard component
// breakdown, kept as an ordered slice for reproducible serialization.
type Contribution struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

// Scorecard is the four-component risk assessment of a feature at a target
// granularity. All components and the aggregate are in [0,1].
type Scorecard struct {
	L    float64 `json:"L"` // linkability
	U    float64 `json:"U"` // uniqueness
	I    float64 `json:"I"` // inferability
	R    float64 `json:"R"` // policy penalty
	Risk float64 `json:"risk"`

	// Contributors explains each component: component letter -> ordered
	// (source, contribution) pairs.
	Contributors map[string][]Contribution `json:"contributors"`

	// ReasonCodes carries machine-readable flags raised during scoring
	// (e.g. STABLE_ID_PRESENT, MISSING_STATS_CONSERVATIVE_UNIQ).
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// ScorecardRecord is a persisted scorecard with provenance, the unit the
// drift monitor compares across runs.
type ScorecardRecord struct {
	RunID          string      `json:"run_id"`
	FeatureID      string      `json:"feature_id"`
	FeatureVersion string      `json:"feature_version"`
	Granularity    Granularity `json:"granularity"`
	Scorecard      Scorecard   `json:"scorecard"`
	PolicyHash     string      `json:"policy_hash"`
	ComputedAt     int64       `json:"computed_at"` // unix seconds
}
