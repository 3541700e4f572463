package model

// DowngradeTarget is one pre-authorized (boundary, granularity) fallback.
// Downgrades never cross boundaries; changing boundary requires a fresh
// issuance cycle through the planner.
type DowngradeTarget struct {
	Boundary    Boundary    `json:"boundary"`
	Granularity Granularity `json:"granularity"`
}

// JoinPolicy constrains joins permitted under a contract.
type JoinPolicy struct {
	AllowJoins bool     `json:"allow_joins"`
	JoinKeys   []string `json:"join_keys,omitempty"`
}

// RetentionPolicy bounds how long materialized values may be kept.
type RetentionPolicy struct {
	RetentionDays int `json:"retention_days"`
}

// DPParameters carries the calibrated noise settings for a contract.
type DPParameters struct {
	Sigma               float64 `json:"sigma"`
	Epsilon             float64 `json:"epsilon,omitempty"`
	Delta               float64 `json:"delta,omitempty"`
	MinSupportThreshold int     `json:"min_support_threshold"`
}

// RuntimeContract is the versioned, activatable artifact binding a feature
// to one boundary/granularity with a pre-authorized monotonic downgrade
// chain. At most one contract per feature is active at any time.
type RuntimeContract struct {
	FeatureID        string            `json:"feature_id"`
	ContractVersion  string            `json:"contract_version"` // monotonic, derived from issuance time
	Boundary         Boundary          `json:"boundary"`
	Granularity      Granularity       `json:"granularity"`
	AggregationKeys  []string          `json:"aggregation_keys"`
	DPMechanism      string            `json:"dp_mechanism"`
	DPParameters     DPParameters      `json:"dp_parameters"`
	JoinPolicy       JoinPolicy        `json:"join_policy"`
	RetentionPolicy  RetentionPolicy   `json:"retention_policy"`
	AllowDowngradeTo []DowngradeTarget `json:"allow_downgrade_to"`
	Active           bool              `json:"active"`
}

// RoutingDecision records the selection that a contract was issued from,
// including the reason codes that explain it.
type RoutingDecision struct {
	FeatureID       string          `json:"feature_id"`
	Boundary        Boundary        `json:"selected_boundary"`
	Granularity     Granularity     `json:"selected_granularity"`
	DPMechanism     string          `json:"dp_mechanism"`
	DPParameters    DPParameters    `json:"dp_parameters"`
	AggregationKeys []string        `json:"aggregation_keys"`
	JoinPolicy      JoinPolicy      `json:"join_policy"`
	RetentionPolicy RetentionPolicy `json:"retention_policy"`
	ReasonCodes     []string        `json:"decision_reason_codes"`
	ContractVersion string          `json:"contract_version"`
	IssuedAt        int64           `json:"issued_at"`
}
